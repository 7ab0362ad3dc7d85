package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/view"
)

// BatchUI shows one bar for a batch upload and a line per finished entry.
type BatchUI struct {
	progress   *mpb.Progress
	bar        *mpb.Bar
	out        io.Writer
	isTerminal bool
	total      int
	failed     int32
	last       time.Time
}

// NewBatchUI creates a UI for total entries. Bars are only drawn when out is
// a terminal; otherwise plain lines are written to out.
func NewBatchUI(total int, out *os.File) *BatchUI {
	u := &BatchUI{out: out, isTerminal: IsTerminal(out), total: total, last: time.Now()}
	if !u.isTerminal {
		u.progress = mpb.New(mpb.WithOutput(io.Discard))
		return u
	}

	enableANSI(out)
	u.progress = mpb.New(
		mpb.WithOutput(out),
		mpb.WithRefreshRate(300*time.Millisecond),
		mpb.WithWidth(80),
	)
	u.bar = u.progress.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name("Uploading ", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(decor.Statistics) string {
				if n := atomic.LoadInt32(&u.failed); n > 0 {
					return fmt.Sprintf("%d failed", n)
				}
				return ""
			}),
		),
	)
	return u
}

// Entry records a finished entry. Its signature matches
// transfer.BatchOptions.OnEntry.
func (u *BatchUI) Entry(done, total int, e models.FlattenedEntry, err error) {
	var size int64
	if e.Content != nil {
		size = e.Content.Size()
	}

	var msg string
	if err != nil {
		atomic.AddInt32(&u.failed, 1)
		msg = fmt.Sprintf("✗ [%d/%d] %s: %v\n", done, total, truncatePath(e.RelativePath, 3), err)
	} else {
		msg = fmt.Sprintf("✓ [%d/%d] %s (%s)\n", done, total, truncatePath(e.RelativePath, 3), view.FormatSize(size))
	}
	_, _ = io.WriteString(u.Writer(), msg)

	if u.bar != nil {
		now := time.Now()
		u.bar.EwmaIncrement(now.Sub(u.last))
		u.last = now
	}
}

// Failed is the number of entries reported with an error.
func (u *BatchUI) Failed() int {
	return int(atomic.LoadInt32(&u.failed))
}

// Wait completes the bar and blocks until it is rendered.
func (u *BatchUI) Wait() {
	if u.bar != nil {
		u.bar.SetTotal(-1, true)
	}
	u.progress.Wait()
}

// Writer prints above the bar in terminal mode.
func (u *BatchUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are drawn.
func (u *BatchUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath keeps the last maxComponents elements of a slash path.
func truncatePath(p string, maxComponents int) string {
	parts := strings.Split(p, "/")
	if len(parts) <= maxComponents {
		return p
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}

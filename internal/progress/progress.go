// Package progress draws transfer progress on the terminal. Single
// operations (a download, an archive) get a progressbar; batch uploads get
// one mpb bar per top-level entry, see BatchUI.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter receives progress for one operation. Update takes the running
// total, not an increment.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// New draws on out only when it is a terminal; redirected output gets a
// NoOpProgress.
func New(out *os.File, showBytes bool) Reporter {
	if IsTerminal(out) {
		return NewCLIProgress(out, showBytes)
	}
	return NoOpProgress{}
}

// CLIProgress is a single bar. Counters render as byte sizes when
// showBytes is set and as plain numbers (used for percentages) otherwise.
type CLIProgress struct {
	w         io.Writer
	showBytes bool
	bar       *progressbar.ProgressBar
}

func NewCLIProgress(w io.Writer, showBytes bool) *CLIProgress {
	return &CLIProgress{w: w, showBytes: showBytes}
}

func (p *CLIProgress) Start(total int64, description string) {
	w := p.w
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(p.showBytes),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

func (p *CLIProgress) Update(current int64) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Set64(current)
}

func (p *CLIProgress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

// Error leaves the bar where it stopped and prints err on its own line.
func (p *CLIProgress) Error(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(p.w, "\nError: %v\n", err)
}

type NoOpProgress struct{}

func (NoOpProgress) Start(int64, string) {}
func (NoOpProgress) Update(int64)        {}
func (NoOpProgress) Finish()             {}
func (NoOpProgress) Error(error)         {}

// Percent turns r into the percentage callback the archiver reports
// through. r must have been started with a total of 100.
func Percent(r Reporter) func(int) {
	return func(pct int) { r.Update(int64(pct)) }
}

// ProgressReader reports the bytes read so far to a Reporter.
type ProgressReader struct {
	src  io.Reader
	to   Reporter
	read int64
}

func NewProgressReader(src io.Reader, to Reporter) *ProgressReader {
	return &ProgressReader{src: src, to: to}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.src.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.to.Update(pr.read)
	}
	return n, err
}

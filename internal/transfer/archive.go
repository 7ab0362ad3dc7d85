package transfer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
)

// ArchiverConfig wires an Archiver. Queue is optional.
type ArchiverConfig struct {
	Store       store.Store
	Queue       *Queue
	Logger      *logging.Logger
	Concurrency int // parallel fetches; defaults to DefaultArchiveConcurrency
	PageSize    int // enumeration page size
}

// Archiver assembles the files directly inside a folder into a zip archive.
// Sub-folders are not descended into.
type Archiver struct {
	store       store.Store
	queue       *Queue
	logger      *logging.Logger
	concurrency int
	pageSize    int
	now         func() time.Time
}

// ArchiveResult is a finished archive.
type ArchiveResult struct {
	TaskID         string
	Data           []byte
	Files          int // entries written
	Failed         []apperrors.ItemError
	SkippedFolders int
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg ArchiverConfig) *Archiver {
	n := cfg.Concurrency
	if n <= 0 {
		n = constants.DefaultArchiveConcurrency
	}
	if n > constants.MaxArchiveConcurrency {
		n = constants.MaxArchiveConcurrency
	}
	ps := cfg.PageSize
	if ps <= 0 {
		ps = constants.ArchiveEnumerationPageSize
	}
	return &Archiver{
		store:       cfg.Store,
		queue:       cfg.Queue,
		logger:      logging.OrNop(cfg.Logger),
		concurrency: n,
		pageSize:    ps,
		now:         time.Now,
	}
}

// Archive enumerates folderID, fetches each file and zips them under their
// own names. Progress is reported after every item as a non-decreasing
// percentage that ends at 100. A failed fetch is logged and skipped;
// enumeration failure or an empty folder fails the whole operation.
func (a *Archiver) Archive(ctx context.Context, folderID string, onProgress func(int)) (*ArchiveResult, error) {
	start := a.now()
	res := &ArchiveResult{}

	if a.queue != nil {
		task := a.queue.Track(KindArchive, folderID, folderID)
		res.TaskID = task.ID
		if err := a.queue.Start(task.ID); err != nil {
			return nil, err
		}
	}

	err := a.run(ctx, folderID, res, onProgress)
	if a.queue != nil {
		a.queue.Finish(res.TaskID, err)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordArchive(a.now().Sub(start))
	a.logger.Info().
		Str("folder", folderID).
		Int("files", res.Files).
		Int("failed", len(res.Failed)).
		Int("skipped_folders", res.SkippedFolders).
		Int("bytes", len(res.Data)).
		Msg("archive assembled")
	return res, nil
}

func (a *Archiver) run(ctx context.Context, folderID string, res *ArchiveResult, onProgress func(int)) error {
	files, skipped, err := a.enumerate(ctx, folderID)
	if err != nil {
		return &apperrors.EnumerationFailure{FolderID: folderID, Err: err}
	}
	res.SkippedFolders = skipped
	if len(files) == 0 {
		return &apperrors.EnumerationFailure{FolderID: folderID, Err: apperrors.ErrEmptyFolder}
	}
	if skipped > 0 {
		a.logger.Debug().Int("folders", skipped).Str("folder", folderID).Msg("skipping sub-folders")
	}

	contents := make([][]byte, len(files))
	fetchErrs := make([]error, len(files))
	prog := &progressTracker{total: len(files), emit: onProgress, queue: a.queue, taskID: res.TaskID}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, f := range files {
		g.Go(func() error {
			data, err := a.store.FetchFileBytes(gctx, f.ID)
			metrics.RecordArchiveItem(err == nil)
			if err != nil {
				fetchErrs[i] = apperrors.NewTransient("fetch", err)
				a.logger.Warn().Err(err).Str("file", f.Name).Str("id", f.ID).Msg("skipping file that could not be fetched")
			} else {
				contents[i] = data
			}
			prog.step()
			return nil
		})
	}
	g.Wait()

	// Only the caller's cancellation aborts; per-item errors never do.
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, err := range fetchErrs {
		if err != nil {
			res.Failed = append(res.Failed, apperrors.ItemError{Name: files[i].Name, Err: err})
		}
	}

	data, written, err := a.write(files, contents, fetchErrs)
	if err != nil {
		return err
	}
	res.Data = data
	res.Files = written
	prog.finish()
	return nil
}

func (a *Archiver) enumerate(ctx context.Context, folderID string) ([]models.Item, int, error) {
	var files []models.Item
	skipped := 0
	cursor := ""
	for {
		page, err := a.store.ListFolder(ctx, folderID, store.ListOptions{PageSize: a.pageSize, Cursor: cursor})
		metrics.RecordListing(false, err == nil)
		if err != nil {
			return nil, 0, apperrors.NewTransient("list", err)
		}
		for _, it := range page.Items {
			if it.IsFolder {
				skipped++
				continue
			}
			files = append(files, it)
		}
		if page.NextCursor == "" {
			return files, skipped, nil
		}
		cursor = page.NextCursor
	}
}

// write zips fetched files in listing order. When two files share a name the
// later one in the listing wins.
func (a *Archiver) write(files []models.Item, contents [][]byte, fetchErrs []error) ([]byte, int, error) {
	names := make([]string, len(files))
	last := make(map[string]int, len(files))
	for i, f := range files {
		if fetchErrs[i] != nil {
			continue
		}
		names[i] = archiveName(f)
		last[names[i]] = i
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	written := 0
	for i, f := range files {
		if fetchErrs[i] != nil || last[names[i]] != i {
			continue
		}
		modified := f.CreatedAt
		if f.UpdatedAt != nil {
			modified = *f.UpdatedAt
		}
		if modified.IsZero() {
			modified = a.now()
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names[i],
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to add %s to archive: %w", names[i], err)
		}
		if _, err := w.Write(contents[i]); err != nil {
			return nil, 0, fmt.Errorf("failed to write %s to archive: %w", names[i], err)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), written, nil
}

// archiveName flattens an item name into a safe top-level zip entry name.
func archiveName(it models.Item) string {
	name := strings.ReplaceAll(it.Name, "\\", "/")
	name = strings.ReplaceAll(name, "\x00", "")
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." || name == ".." || name == "" {
		name = "file-" + it.ID
	}
	if len(name) > 240 {
		name = name[:240]
	}
	return name
}

// progressTracker turns item completions into a non-decreasing percentage.
type progressTracker struct {
	mu     sync.Mutex
	total  int
	done   int
	last   int
	emit   func(int)
	queue  *Queue
	taskID string
}

func (p *progressTracker) step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.report(percent(p.done, p.total))
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report(100)
}

// report requires p.mu held.
func (p *progressTracker) report(v int) {
	if v <= p.last {
		return
	}
	p.last = v
	if p.emit != nil {
		p.emit(v)
	}
	if p.queue != nil {
		p.queue.UpdateProgress(p.taskID, v)
	}
}

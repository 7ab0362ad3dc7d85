// Package flatten turns a mixed payload of files and directories into a flat
// list of files tagged with their relative paths.
//
// Directories are read through a stateful BatchReader that hands out a
// bounded batch per call. A directory is only fully enumerated once its
// reader returns an empty batch; a single call is never assumed to be the
// whole directory.
package flatten

import (
	"context"
	"fmt"
	"io"

	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/models"
)

// Entry is a node of the payload.
type Entry interface {
	Name() string
}

// FileEntry is a leaf whose content can be materialized.
type FileEntry interface {
	Entry
	Materialize(ctx context.Context) (content models.Blob, mimeType string, err error)
}

// DirEntry is a container read through a BatchReader.
type DirEntry interface {
	Entry
	Reader() BatchReader
}

// BatchReader yields a directory's children one bounded batch at a time.
// An empty batch with a nil error signals exhaustion. Readers that also
// implement io.Closer are closed once drained.
type BatchReader interface {
	ReadBatch(ctx context.Context) ([]Entry, error)
}

// Skipped records an entry that could not be read.
type Skipped struct {
	Path string
	Err  error
}

// Result is the output of Flatten.
type Result struct {
	Entries []models.FlattenedEntry
	Skipped []Skipped
}

// TotalBytes sums the size of all flattened entries.
func (r *Result) TotalBytes() int64 {
	var n int64
	for _, e := range r.Entries {
		n += e.Content.Size()
	}
	return n
}

// Options configures Flatten.
type Options struct {
	Logger *logging.Logger
}

type flattener struct {
	logger *logging.Logger
	result *Result
}

// Flatten walks roots depth-first and returns every file found, in reader
// order. Files given directly as roots keep their bare name as relative path.
// Unreadable entries are skipped with a warning; only context cancellation
// aborts the walk.
func Flatten(ctx context.Context, roots []Entry, opts Options) (*Result, error) {
	f := &flattener{
		logger: logging.OrNop(opts.Logger),
		result: &Result{Entries: make([]models.FlattenedEntry, 0, len(roots))},
	}
	for _, root := range roots {
		if err := f.visit(ctx, "", root); err != nil {
			return nil, err
		}
	}
	metrics.RecordFlatten(len(f.result.Entries), len(f.result.Skipped))
	return f.result, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (f *flattener) skip(path string, err error) {
	f.logger.Warn().Str("path", path).Err(err).Msg("skipping unreadable entry")
	f.result.Skipped = append(f.result.Skipped, Skipped{Path: path, Err: err})
}

func (f *flattener) visit(ctx context.Context, prefix string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := joinPath(prefix, e.Name())

	switch v := e.(type) {
	case FileEntry:
		content, mimeType, err := v.Materialize(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.skip(path, err)
			return nil
		}
		f.result.Entries = append(f.result.Entries, models.FlattenedEntry{
			RelativePath: path,
			Content:      content,
			MimeType:     mimeType,
		})
		return nil

	case DirEntry:
		return f.drain(ctx, path, v.Reader())

	default:
		f.skip(path, fmt.Errorf("unsupported entry type %T", e))
		return nil
	}
}

func (f *flattener) drain(ctx context.Context, path string, r BatchReader) error {
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	for {
		batch, err := r.ReadBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Keep what was already read from this directory.
			f.skip(path, err)
			return nil
		}
		if len(batch) == 0 {
			return nil
		}
		for _, child := range batch {
			if err := f.visit(ctx, path, child); err != nil {
				return err
			}
		}
	}
}

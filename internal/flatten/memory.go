package flatten

import (
	"context"
	"errors"

	"github.com/rescale/rescale-drive/internal/models"
)

// MemFile is an in-memory file entry.
type MemFile struct {
	FileName string
	Data     []byte
	MimeType string
	Err      error // returned by Materialize when set
}

func (f *MemFile) Name() string { return f.FileName }

func (f *MemFile) Materialize(context.Context) (models.Blob, string, error) {
	if f.Err != nil {
		return nil, "", f.Err
	}
	mt := f.MimeType
	if mt == "" {
		mt = "application/octet-stream"
	}
	return models.BytesBlob(f.Data), mt, nil
}

// ErrInjectedRead is the read failure of a MemDir with FailAfter set and no
// ReadErr.
var ErrInjectedRead = errors.New("injected directory read failure")

// MemDir is an in-memory directory whose reader hands out BatchSize children
// per call. FailAfter > 0 makes the reader fail with ReadErr (ErrInjectedRead
// when nil) once that many batches were served.
type MemDir struct {
	DirName   string
	Children  []Entry
	BatchSize int
	FailAfter int
	ReadErr   error
}

func (d *MemDir) Name() string { return d.DirName }

func (d *MemDir) Reader() BatchReader {
	return &memReader{dir: d}
}

type memReader struct {
	dir    *MemDir
	offset int
	served int
}

func (r *memReader) ReadBatch(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.dir.FailAfter > 0 && r.served >= r.dir.FailAfter {
		if r.dir.ReadErr == nil {
			return nil, ErrInjectedRead
		}
		return nil, r.dir.ReadErr
	}
	size := r.dir.BatchSize
	if size <= 0 {
		size = 100
	}
	end := r.offset + size
	if end > len(r.dir.Children) {
		end = len(r.dir.Children)
	}
	batch := r.dir.Children[r.offset:end]
	r.offset = end
	if len(batch) > 0 {
		r.served++
	}
	return batch, nil
}

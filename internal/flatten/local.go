package flatten

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rescale/rescale-drive/internal/localfs"
	"github.com/rescale/rescale-drive/internal/models"
)

// LocalOptions configures entries built from local paths.
type LocalOptions struct {
	BatchSize     int  // directory entries per ReadBatch (default 100)
	IncludeHidden bool // include dot-files
}

// FromPaths builds payload entries from local paths. Paths that cannot be
// stat'ed become entries that fail to materialize, so Flatten reports them
// as skipped instead of aborting.
func FromPaths(paths []string, opts LocalOptions) []Entry {
	out := make([]Entry, 0, len(paths))
	for _, p := range paths {
		clean := filepath.Clean(p)
		fe, err := localfs.Stat(clean)
		if err != nil {
			fe = localfs.FileEntry{Path: clean, Name: filepath.Base(clean), Err: err}
		}
		out = append(out, fromLocal(fe, opts))
	}
	return out
}

func fromLocal(fe localfs.FileEntry, opts LocalOptions) Entry {
	if fe.Err == nil && fe.IsDir {
		return &localDir{path: fe.Path, name: fe.Name, opts: opts}
	}
	return &localFile{entry: fe}
}

type localFile struct {
	entry localfs.FileEntry
}

func (f *localFile) Name() string { return f.entry.Name }

// Materialize confirms the file is still present and readable and captures
// its size; the content itself is streamed at upload time.
func (f *localFile) Materialize(context.Context) (models.Blob, string, error) {
	if f.entry.Err != nil {
		return nil, "", f.entry.Err
	}
	fh, err := os.Open(f.entry.Path)
	if err != nil {
		return nil, "", err
	}
	info, err := fh.Stat()
	fh.Close()
	if err != nil {
		return nil, "", err
	}
	return models.FileBlob{Path: f.entry.Path, Length: info.Size()}, localfs.DetectMimeType(f.entry.Path), nil
}

type localDir struct {
	path string
	name string
	opts LocalOptions
}

func (d *localDir) Name() string { return d.name }

func (d *localDir) Reader() BatchReader {
	return &localReader{dir: d}
}

type localReader struct {
	dir *localDir
	r   *localfs.DirReader
}

func (lr *localReader) ReadBatch(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lr.r == nil {
		r, err := localfs.OpenDir(lr.dir.path, lr.dir.opts.BatchSize, lr.dir.opts.IncludeHidden)
		if err != nil {
			return nil, err
		}
		lr.r = r
	}
	batch, err := lr.r.ReadBatch()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(batch))
	for _, fe := range batch {
		out = append(out, fromLocal(fe, lr.dir.opts))
	}
	return out, nil
}

func (lr *localReader) Close() error {
	if lr.r == nil {
		return nil
	}
	return lr.r.Close()
}

package localfs

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ErrSymlinkedDir marks a symbolic link to a directory found inside a walked
// directory. Such links are reported, never descended into.
var ErrSymlinkedDir = errors.New("symbolic link to a directory is not followed")

// FileEntry represents a file or directory in the local filesystem.
type FileEntry struct {
	Path    string      // Full path to the file
	Name    string      // Base name of the file
	Size    int64       // Size in bytes (0 for directories)
	IsDir   bool        // True if this is a directory
	ModTime time.Time   // Last modification time
	Mode    fs.FileMode // File mode/permissions
	Err     error       // Non-nil when the entry could not be stat'ed
}

// Stat returns the FileEntry for path, following symlinks.
func Stat(path string) (FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
		Mode:    info.Mode(),
	}, nil
}

// DirReader reads a directory in bounded batches. Each ReadBatch returns at
// most batchSize entries; an empty batch means the directory is exhausted.
type DirReader struct {
	path          string
	f             *os.File
	batchSize     int
	includeHidden bool
	done          bool
}

// OpenDir opens path for batched reading.
func OpenDir(path string, batchSize int, includeHidden bool) (*DirReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DirReader{path: path, f: f, batchSize: batchSize, includeHidden: includeHidden}, nil
}

// ReadBatch returns the next batch of entries. Entries whose metadata cannot
// be read, and links to directories, are returned with Err set so the caller
// can report them.
// Hidden entries are dropped; a batch that only held hidden entries is
// followed by another read so that an empty batch always means exhaustion.
func (r *DirReader) ReadBatch() ([]FileEntry, error) {
	for !r.done {
		entries, err := r.f.ReadDir(r.batchSize)
		if errors.Is(err, io.EOF) || (err == nil && len(entries) == 0) {
			r.Close()
			return nil, nil
		}
		if err != nil {
			r.Close()
			return nil, err
		}

		batch := make([]FileEntry, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if !r.includeHidden && IsHiddenName(name) {
				continue
			}
			full := filepath.Join(r.path, name)
			fe := FileEntry{Path: full, Name: name, IsDir: entry.IsDir()}
			if entry.Type()&fs.ModeSymlink != 0 {
				// Links to files are followed. Links to directories are not,
				// so a link back up the tree cannot loop the walk.
				st, err := Stat(full)
				switch {
				case err != nil:
					fe.Err = err
				case st.IsDir:
					fe.Err = &fs.PathError{Op: "walk", Path: full, Err: ErrSymlinkedDir}
				default:
					st.Name = name
					fe = st
				}
				batch = append(batch, fe)
				continue
			}
			info, err := entry.Info()
			if err != nil {
				fe.Err = err
			} else {
				fe.Size = info.Size()
				fe.ModTime = info.ModTime()
				fe.Mode = info.Mode()
			}
			batch = append(batch, fe)
		}
		if len(batch) > 0 {
			return batch, nil
		}
	}
	return nil, nil
}

// Close releases the directory handle. It is safe to call more than once.
func (r *DirReader) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	return r.f.Close()
}

// DetectMimeType guesses the MIME type of a local file, by extension first
// and by content sniffing when the extension is unknown. Parameters such as
// charset are stripped.
func DetectMimeType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return stripParams(t)
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return stripParams(m.String())
}

func stripParams(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

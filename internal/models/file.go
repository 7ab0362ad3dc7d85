package models

import (
	"bytes"
	"io"
	"os"
	"time"
)

// Item is one child of a remote folder, mirrored from the store as-is.
// Size is only meaningful for files.
type Item struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	IsFolder  bool       `json:"isFolder"`
	MimeType  string     `json:"mimeType"`
	Size      *int64     `json:"size,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// SizeOrZero returns the item size, treating an unknown size as zero.
func (i Item) SizeOrZero() int64 {
	if i.Size == nil {
		return 0
	}
	return *i.Size
}

// Int64Ptr is a convenience for building items with a known size.
func Int64Ptr(v int64) *int64 {
	return &v
}

// ListPage is one page of a folder listing.
// An empty NextCursor means there is no further page.
// TotalCount is negative when the backend cannot report it.
type ListPage struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	TotalCount int    `json:"totalCount"`
}

// HasMore reports whether another page follows this one.
func (p *ListPage) HasMore() bool {
	return p != nil && p.NextCursor != ""
}

// NavigationFrame is one level of the breadcrumb.
type NavigationFrame struct {
	FolderID   string `json:"folderId"`
	FolderName string `json:"folderName"`
}

// StorageQuota reports account-level usage in bytes.
type StorageQuota struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// Blob is lazily-readable file content.
type Blob interface {
	Size() int64
	Open() (io.ReadCloser, error)
}

// FlattenedEntry is one leaf file of a flattened upload payload.
// RelativePath is always '/'-separated and rooted at the dropped entry.
type FlattenedEntry struct {
	RelativePath string
	Content      Blob
	MimeType     string
}

// BytesBlob is an in-memory Blob.
type BytesBlob []byte

func (b BytesBlob) Size() int64 { return int64(len(b)) }

func (b BytesBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FileBlob is a Blob backed by a local file whose size was captured at stat time.
type FileBlob struct {
	Path   string
	Length int64
}

func (f FileBlob) Size() int64 { return f.Length }

func (f FileBlob) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// Package store defines the remote object store the browser and transfer
// engine talk to. Backends live in sub-packages.
package store

import (
	"context"
	"io"

	"github.com/rescale/rescale-drive/internal/models"
)

// RootFolderID addresses the implicit root folder.
const RootFolderID = ""

// ListOptions controls a single listing call.
type ListOptions struct {
	PageSize int
	Cursor   string // empty fetches from the start

	// CursorOnly asks the backend for the next cursor only. Backends that
	// cannot trim the payload may still return items; callers ignore them.
	CursorOnly bool
}

// UploadRequest describes a single file upload.
type UploadRequest struct {
	ParentID string
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// Store is the black-box remote store.
type Store interface {
	ListFolder(ctx context.Context, folderID string, opts ListOptions) (*models.ListPage, error)
	CreateFolder(ctx context.Context, name, parentID string) (*models.Item, error)
	UploadFile(ctx context.Context, req UploadRequest) (*models.Item, error)
	FetchFileBytes(ctx context.Context, fileID string) ([]byte, error)
	FetchFileTextPreview(ctx context.Context, fileID string) (string, error)
}

// QuotaReporter is implemented by backends that expose account usage.
type QuotaReporter interface {
	StorageQuota(ctx context.Context) (*models.StorageQuota, error)
}

// Deleter is implemented by backends that can remove items.
// It returns the parent folder ID so callers can invalidate its listing.
type Deleter interface {
	DeleteItem(ctx context.Context, id string) (parentID string, err error)
}

// ItemGetter is implemented by backends that can resolve a single item by ID.
type ItemGetter interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
}

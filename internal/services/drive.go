// Package services wires the store, listing cache, navigation and transfer
// engine into the operations the CLI exposes. It has no terminal
// dependencies of its own.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/diskspace"
	"github.com/rescale/rescale-drive/internal/events"
	"github.com/rescale/rescale-drive/internal/flatten"
	"github.com/rescale/rescale-drive/internal/http"
	"github.com/rescale/rescale-drive/internal/listing"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/navigation"
	"github.com/rescale/rescale-drive/internal/progress"
	"github.com/rescale/rescale-drive/internal/state"
	"github.com/rescale/rescale-drive/internal/store"
	"github.com/rescale/rescale-drive/internal/transfer"
	"github.com/rescale/rescale-drive/internal/validation"
)

// ErrUnsupported is returned when the backend lacks an optional capability.
var ErrUnsupported = errors.New("operation not supported by this backend")

// Options configures a Drive.
type Options struct {
	Config   *config.Config
	EventBus *events.EventBus
	Logger   *logging.Logger
	// CacheTTL bounds listing cache entries; 0 keeps them until invalidated.
	CacheTTL time.Duration
}

// Drive is the application facade over one store.
type Drive struct {
	store     store.Store
	cfg       *config.Config
	eventBus  *events.EventBus
	logger    *logging.Logger
	cache     *listing.Cache
	queue     *transfer.Queue
	uploader  *transfer.Uploader
	archiver  *transfer.Archiver
	previewer *transfer.Previewer
	retry     http.Config
}

// NewDrive wires a Drive around st.
func NewDrive(st store.Store, opts Options) *Drive {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	logger := logging.OrNop(opts.Logger)

	cache := listing.NewCache(opts.CacheTTL, opts.EventBus)
	queue := transfer.NewQueue(opts.EventBus)

	policy := transfer.Policy{
		MaxFileSize:      cfg.MaxUploadBytes(),
		AllowedMIMETypes: cfg.Transfer.AllowedMIMETypes,
	}
	previewPolicy := transfer.DefaultPreviewPolicy()
	if len(cfg.Transfer.PreviewMIMETypes) > 0 {
		previewPolicy.MIMETypes = cfg.Transfer.PreviewMIMETypes
	}

	retry := http.DefaultConfig()
	retry.MaxRetries = cfg.Transfer.HTTPRetries + 1
	retry.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("error_type", http.ErrorTypeName(errType)).
			Msg("retrying")
	}

	return &Drive{
		store:    st,
		cfg:      cfg,
		eventBus: opts.EventBus,
		logger:   logger,
		cache:    cache,
		queue:    queue,
		uploader: transfer.NewUploader(transfer.UploaderConfig{
			Store:  st,
			Policy: policy,
			Cache:  cache,
			Queue:  queue,
			Logger: logger,
		}),
		archiver: transfer.NewArchiver(transfer.ArchiverConfig{
			Store:       st,
			Queue:       queue,
			Logger:      logger,
			Concurrency: cfg.Transfer.ArchiveConcurrency,
		}),
		previewer: transfer.NewPreviewer(st, previewPolicy, 0),
		retry:     retry,
	}
}

// Store returns the backend.
func (d *Drive) Store() store.Store { return d.store }

// Cache returns the shared listing cache.
func (d *Drive) Cache() *listing.Cache { return d.cache }

// Queue returns the transfer queue.
func (d *Drive) Queue() *transfer.Queue { return d.queue }

// RootFolderID is the folder shown as root.
func (d *Drive) RootFolderID() string { return d.cfg.Store.RootFolderID }

// resolve maps the empty ID to the configured root.
func (d *Drive) resolve(id string) string {
	if id == "" {
		return d.cfg.Store.RootFolderID
	}
	return id
}

// withRetry runs a read-only operation with the configured whole-action
// retries.
func (d *Drive) withRetry(ctx context.Context, op func() error) error {
	return http.ExecuteWithRetry(ctx, d.retry, op)
}

// NewBrowser creates a browser over the shared cache. Its navigation root
// is the configured root folder, which cannot be left with Up or a crumb.
func (d *Drive) NewBrowser(filter models.ViewFilter) *listing.Browser {
	return listing.NewBrowser(listing.BrowserConfig{
		Store:        d.store,
		Cache:        d.cache,
		Nav:          navigation.NewStack(d.eventBus),
		State:        state.NewFileListState(filter, d.eventBus),
		PageSize:     d.cfg.View.PageSize,
		Logger:       d.logger,
		RootFolderID: d.cfg.Store.RootFolderID,
	})
}

// ListPage loads one page of folderID through a fresh browser. A page past
// the end settles on the last page reached.
func (d *Drive) ListPage(ctx context.Context, folderID string, page int, filter models.ViewFilter) (*state.Snapshot, error) {
	b := d.NewBrowser(filter)
	if folderID != "" && folderID != d.cfg.Store.RootFolderID {
		b.Nav().Push(models.NavigationFrame{FolderID: folderID, FolderName: folderID})
	}
	if page > 1 {
		b.GoToPage(page)
	}
	return b.Load(ctx)
}

// CreateFolder creates name under parentID and drops the parent's cached
// listing.
func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (*models.Item, error) {
	if err := validation.FolderName(name); err != nil {
		return nil, err
	}
	parentID = d.resolve(parentID)
	item, err := d.store.CreateFolder(ctx, name, parentID)
	if err != nil {
		return nil, err
	}
	d.cache.Invalidate(parentID)
	d.logger.Info().Str("name", name).Str("id", item.ID).Msg("folder created")
	return item, nil
}

// Delete removes an item and drops its parent's cached listing.
func (d *Drive) Delete(ctx context.Context, id string) error {
	del, ok := d.store.(store.Deleter)
	if !ok {
		return fmt.Errorf("delete: %w", ErrUnsupported)
	}
	parentID, err := del.DeleteItem(ctx, id)
	if err != nil {
		return err
	}
	d.cache.Invalidate(parentID)
	return nil
}

// Item resolves a single item by ID.
func (d *Drive) Item(ctx context.Context, id string) (*models.Item, error) {
	getter, ok := d.store.(store.ItemGetter)
	if !ok {
		return nil, fmt.Errorf("item lookup: %w", ErrUnsupported)
	}
	var item *models.Item
	err := d.withRetry(ctx, func() error {
		var err error
		item, err = getter.GetItem(ctx, id)
		return err
	})
	return item, err
}

// Quota reports storage usage when the backend tracks it.
func (d *Drive) Quota(ctx context.Context) (*models.StorageQuota, error) {
	qr, ok := d.store.(store.QuotaReporter)
	if !ok {
		return nil, fmt.Errorf("storage quota: %w", ErrUnsupported)
	}
	var q *models.StorageQuota
	err := d.withRetry(ctx, func() error {
		var err error
		q, err = qr.StorageQuota(ctx)
		return err
	})
	return q, err
}

// PrepareUpload flattens local paths into an upload list.
func (d *Drive) PrepareUpload(ctx context.Context, paths []string, includeHidden bool) (*flatten.Result, error) {
	roots := flatten.FromPaths(paths, flatten.LocalOptions{IncludeHidden: includeHidden})
	return flatten.Flatten(ctx, roots, flatten.Options{Logger: d.logger})
}

// Upload sends a flattened list to parentID. See transfer.Uploader.UploadBatch.
func (d *Drive) Upload(ctx context.Context, parentID string, entries []models.FlattenedEntry, opts transfer.BatchOptions) (*transfer.BatchResult, error) {
	return d.uploader.UploadBatch(ctx, d.resolve(parentID), entries, opts)
}

// Archive assembles folderID into a zip archive.
func (d *Drive) Archive(ctx context.Context, folderID string, onProgress func(int)) (*transfer.ArchiveResult, error) {
	return d.archiver.Archive(ctx, d.resolve(folderID), onProgress)
}

// SaveArchive writes an assembled archive to dest.
func (d *Drive) SaveArchive(res *transfer.ArchiveResult, dest string) error {
	return writeFile(dest, bytes.NewReader(res.Data), int64(len(res.Data)), progress.NoOpProgress{})
}

// Download fetches fileID into dest and returns the bytes written.
func (d *Drive) Download(ctx context.Context, fileID, dest string, rep progress.Reporter) (int64, error) {
	var data []byte
	err := d.withRetry(ctx, func() error {
		var err error
		data, err = d.store.FetchFileBytes(ctx, fileID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if rep == nil {
		rep = progress.NoOpProgress{}
	}
	n := int64(len(data))
	rep.Start(n, filepath.Base(dest))
	if err := writeFile(dest, bytes.NewReader(data), n, rep); err != nil {
		rep.Error(err)
		return 0, err
	}
	rep.Finish()
	d.logger.Info().Str("file", fileID).Str("dest", dest).Int64("bytes", n).Msg("download finished")
	return n, nil
}

// Preview returns the text preview of fileID.
func (d *Drive) Preview(ctx context.Context, fileID string) (string, bool, error) {
	item, err := d.Item(ctx, fileID)
	if err != nil {
		return "", false, err
	}
	var (
		text      string
		truncated bool
	)
	err = d.withRetry(ctx, func() error {
		var err error
		text, truncated, err = d.previewer.Preview(ctx, *item)
		return err
	})
	return text, truncated, err
}

// writeFile writes size bytes from r to dest through a temporary file in the
// same directory, after checking free space.
func writeFile(dest string, r io.Reader, size int64, rep progress.Reporter) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := diskspace.CheckAvailableSpace(dest, size, diskspace.DefaultSafetyMargin); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, progress.NewProgressReader(r, rep)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}

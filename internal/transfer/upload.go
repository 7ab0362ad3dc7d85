package transfer

import (
	"context"
	"fmt"
	"path"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/listing"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
)

const defaultMIMEType = "application/octet-stream"

// UploaderConfig wires an Uploader. Cache and Queue are optional.
type UploaderConfig struct {
	Store  store.Store
	Policy Policy
	Cache  listing.Invalidator
	Queue  *Queue
	Logger *logging.Logger
}

// Uploader sends files to a store folder.
type Uploader struct {
	store  store.Store
	policy Policy
	cache  listing.Invalidator
	queue  *Queue
	logger *logging.Logger
}

// NewUploader creates an Uploader.
func NewUploader(cfg UploaderConfig) *Uploader {
	return &Uploader{
		store:  cfg.Store,
		policy: cfg.Policy,
		cache:  cfg.Cache,
		queue:  cfg.Queue,
		logger: logging.OrNop(cfg.Logger),
	}
}

// BatchOptions controls UploadBatch.
type BatchOptions struct {
	// CreateFolders recreates the directories of each RelativePath under the
	// target folder. Without it entries are uploaded flat, named by their
	// full relative path.
	CreateFolders bool
	// Name labels the queue task; defaults to the entry count.
	Name string
	// OnEntry is called after each entry, success or failure.
	OnEntry func(done, total int, entry models.FlattenedEntry, err error)
}

// BatchResult reports a finished batch.
type BatchResult struct {
	TaskID    string
	Succeeded int
	Failed    int
	Uploaded  []models.Item
	Errors    []apperrors.ItemError
}

// UploadFile validates and uploads a single entry under its base name.
// Validation failures are returned before any store call.
func (u *Uploader) UploadFile(ctx context.Context, parentID string, e models.FlattenedEntry) (*models.Item, error) {
	name := path.Base(e.RelativePath)
	if err := u.validate(name, e); err != nil {
		return nil, err
	}
	item, err := u.put(ctx, parentID, name, e)
	if err != nil {
		return nil, err
	}
	u.invalidate(parentID)
	return item, nil
}

func (u *Uploader) validate(name string, e models.FlattenedEntry) error {
	var size int64
	if e.Content != nil {
		size = e.Content.Size()
	}
	if err := u.policy.Check(name, e.MimeType, size); err != nil {
		metrics.RecordUploadRejected()
		return err
	}
	return nil
}

func (u *Uploader) put(ctx context.Context, parentID, name string, e models.FlattenedEntry) (*models.Item, error) {
	if e.Content == nil {
		return nil, fmt.Errorf("%s: no content", e.RelativePath)
	}
	rc, err := e.Content.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", e.RelativePath, err)
	}
	defer rc.Close()

	mimeType := e.MimeType
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	size := e.Content.Size()

	item, err := u.store.UploadFile(ctx, store.UploadRequest{
		ParentID: parentID,
		Name:     name,
		MimeType: mimeType,
		Size:     size,
		Content:  rc,
	})
	metrics.RecordUpload(size, err == nil)
	if err != nil {
		return nil, apperrors.NewTransient("upload", err)
	}
	return item, nil
}

func (u *Uploader) invalidate(folderID string) {
	if u.cache != nil {
		u.cache.Invalidate(folderID)
	}
}

// UploadBatch uploads every entry independently and in order. It never stops
// on the first error; the returned error is a *apperrors.PartialBatchFailure
// when at least one entry failed. Succeeded uploads are kept. Every folder
// that gained content has its cached listing invalidated.
func (u *Uploader) UploadBatch(ctx context.Context, parentID string, entries []models.FlattenedEntry, opts BatchOptions) (*BatchResult, error) {
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%d files", len(entries))
	}

	res := &BatchResult{}
	var taskID string
	if u.queue != nil {
		task := u.queue.Track(KindUpload, parentID, name)
		taskID = task.ID
		res.TaskID = taskID
		if err := u.queue.Start(taskID); err != nil {
			return nil, err
		}
	}

	b := &batch{
		u:        u,
		rootID:   parentID,
		folders:  make(map[string]folderResult),
		touched:  make(map[string]struct{}),
		creating: opts.CreateFolders,
	}

	total := len(entries)
	for i, e := range entries {
		err := b.upload(ctx, e, res)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, apperrors.ItemError{Name: e.RelativePath, Err: err})
			u.logger.Warn().Err(err).Str("path", e.RelativePath).Msg("upload failed")
		} else {
			res.Succeeded++
		}

		if u.queue != nil {
			u.queue.UpdateProgress(taskID, percent(i+1, total))
		}
		if opts.OnEntry != nil {
			opts.OnEntry(i+1, total, e, err)
		}
	}

	for folderID := range b.touched {
		u.invalidate(folderID)
	}

	u.logger.Info().
		Str("folder", parentID).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("upload batch finished")

	var batchErr error
	if res.Failed > 0 {
		batchErr = &apperrors.PartialBatchFailure{
			Operation: "upload",
			Succeeded: res.Succeeded,
			Failed:    res.Failed,
			Errors:    res.Errors,
		}
	}

	if u.queue != nil {
		// A batch counts as failed only when nothing made it.
		var taskErr error
		if res.Succeeded == 0 && res.Failed > 0 {
			taskErr = batchErr
		}
		u.queue.Finish(taskID, taskErr)
	}
	return res, batchErr
}

type folderResult struct {
	id  string
	err error
}

// batch holds the per-call folder memo.
type batch struct {
	u        *Uploader
	rootID   string
	folders  map[string]folderResult // relative dir -> created folder
	touched  map[string]struct{}     // folders that gained a child
	creating bool
}

func (b *batch) upload(ctx context.Context, e models.FlattenedEntry, res *BatchResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := e.RelativePath
	target := b.rootID
	if b.creating {
		name = path.Base(e.RelativePath)
	}
	if err := b.u.validate(name, e); err != nil {
		return err
	}

	if b.creating {
		if dir := path.Dir(e.RelativePath); dir != "." && dir != "/" {
			id, err := b.ensureFolder(ctx, dir)
			if err != nil {
				return err
			}
			target = id
		}
	}

	item, err := b.u.put(ctx, target, name, e)
	if err != nil {
		return err
	}
	b.touched[target] = struct{}{}
	res.Uploaded = append(res.Uploaded, *item)
	return nil
}

// ensureFolder returns the store ID of relative directory dir, creating it
// and its ancestors once per batch. A failed creation is remembered so every
// entry beneath it fails the same way.
func (b *batch) ensureFolder(ctx context.Context, dir string) (string, error) {
	if r, ok := b.folders[dir]; ok {
		return r.id, r.err
	}

	parentID := b.rootID
	if parent := path.Dir(dir); parent != "." && parent != "/" {
		id, err := b.ensureFolder(ctx, parent)
		if err != nil {
			b.folders[dir] = folderResult{err: err}
			return "", err
		}
		parentID = id
	}

	item, err := b.u.store.CreateFolder(ctx, path.Base(dir), parentID)
	if err != nil {
		if !apperrors.IsValidation(err) {
			err = apperrors.NewTransient("create folder", err)
		}
		err = fmt.Errorf("create folder %s: %w", dir, err)
		b.folders[dir] = folderResult{err: err}
		return "", err
	}
	b.touched[parentID] = struct{}{}
	b.folders[dir] = folderResult{id: item.ID}
	b.u.logger.Debug().Str("path", dir).Str("id", item.ID).Msg("created folder")
	return item.ID, nil
}

// percent returns round(done/total*100); an empty batch is complete.
func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return (done*100 + total/2) / total
}

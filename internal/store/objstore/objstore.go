// Package objstore implements store.Store over a flat object keyspace.
//
// Object stores have no real folders. A folder ID is a key prefix ending in
// '/', a file ID is the full object key, and both are relative to an
// optional root prefix. Empty folders are kept alive by a zero-byte marker
// object whose key is the folder prefix itself. The S3, Azure and OSS
// backends only adapt their SDKs to the Bucket interface.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
)

// FolderMIMEType is reported for prefixes and stored on folder markers.
const FolderMIMEType = "application/x-directory"

// deleteBatchSize is the per-request key limit shared by S3 and OSS.
const deleteBatchSize = 1000

// Object is one stored object.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ListInput selects one page of keys under Prefix.
type ListInput struct {
	Prefix string
	Token  string
	Limit  int

	// Recursive lists every key under Prefix instead of grouping
	// sub-prefixes at the next '/'.
	Recursive bool
}

// ListResult is one page of a listing. Prefixes holds the grouped
// sub-folders (each ending in '/') and is empty for recursive listings.
type ListResult struct {
	Prefixes  []string
	Objects   []Object
	NextToken string
}

// Bucket is the minimal object API a backend has to provide. Missing keys
// must be reported with an error wrapping apperrors.ErrNotFound.
type Bucket interface {
	List(ctx context.Context, in ListInput) (*ListResult, error)
	Head(ctx context.Context, key string) (*Object, error)
	// Get reads at most limit bytes of key; limit <= 0 reads everything.
	Get(ctx context.Context, key string, limit int64) ([]byte, error)
	Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) error
	Delete(ctx context.Context, keys []string) error
}

// Store adapts a Bucket to store.Store.
type Store struct {
	bucket Bucket
	name   string
	root   string
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix roots every ID under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.root = store.PrefixFolderID(prefix) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// New creates a Store over bucket. name identifies the backend in errors
// and logs, e.g. "s3://bucket".
func New(bucket Bucket, name string, opts ...Option) *Store {
	s := &Store{bucket: bucket, name: name, logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the backend name given to New.
func (s *Store) Name() string {
	return s.name
}

func (s *Store) key(id string) string {
	return s.root + strings.TrimLeft(id, "/")
}

func (s *Store) id(key string) string {
	return strings.TrimPrefix(key, s.root)
}

func isFolderID(id string) bool {
	return id == store.RootFolderID || strings.HasSuffix(id, "/")
}

func validName(field, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &apperrors.ValidationError{Field: field, Value: name, Reason: "must not be empty"}
	case strings.Contains(name, "/"):
		return &apperrors.ValidationError{Field: field, Value: name, Reason: "must not contain '/'"}
	case name == "." || name == "..":
		return &apperrors.ValidationError{Field: field, Value: name, Reason: "is reserved"}
	}
	return nil
}

// textTypes covers extensions missing from Go's builtin table, which
// otherwise depends on the host's mime.types files.
var textTypes = map[string]string{
	".txt":  "text/plain",
	".log":  "text/plain",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
}

// guessMIME derives a content type from the key's extension.
func guessMIME(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if t, ok := textTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	return "application/octet-stream"
}

func (s *Store) folderItem(prefix string, modified time.Time) models.Item {
	return models.Item{
		ID:        s.id(prefix),
		Name:      store.BaseName(s.id(prefix)),
		IsFolder:  true,
		MimeType:  FolderMIMEType,
		CreatedAt: modified,
	}
}

func (s *Store) fileItem(o Object) models.Item {
	ct := o.ContentType
	if ct == "" {
		ct = guessMIME(o.Key)
	}
	item := models.Item{
		ID:        s.id(o.Key),
		Name:      path.Base(o.Key),
		MimeType:  ct,
		Size:      models.Int64Ptr(o.Size),
		CreatedAt: o.LastModified,
	}
	if !o.LastModified.IsZero() {
		mod := o.LastModified
		item.UpdatedAt = &mod
	}
	return item
}

// folderExists reports whether anything, including a marker, lives under id.
func (s *Store) folderExists(ctx context.Context, id string) (bool, error) {
	if id == store.RootFolderID {
		return true, nil
	}
	res, err := s.bucket.List(ctx, ListInput{Prefix: s.key(store.PrefixFolderID(id)), Limit: 1})
	if err != nil {
		return false, err
	}
	return len(res.Objects) > 0 || len(res.Prefixes) > 0, nil
}

func (s *Store) requireFolder(ctx context.Context, op, id string) error {
	ok, err := s.folderExists(ctx, id)
	if err != nil {
		return apperrors.NewTransient(op, err)
	}
	if !ok {
		return fmt.Errorf("folder %q: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// ListFolder implements store.Store. Folders and files share one page in
// key order; the total count is unknown.
func (s *Store) ListFolder(ctx context.Context, folderID string, opts store.ListOptions) (*models.ListPage, error) {
	if folderID != store.RootFolderID && !isFolderID(folderID) {
		folderID = store.PrefixFolderID(folderID)
	}
	limit := opts.PageSize
	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	prefix := s.key(folderID)

	res, err := s.bucket.List(ctx, ListInput{Prefix: prefix, Token: opts.Cursor, Limit: limit})
	if err != nil {
		return nil, apperrors.NewTransient("list", err)
	}

	page := &models.ListPage{NextCursor: res.NextToken, TotalCount: -1}
	if len(res.Prefixes) == 0 && len(res.Objects) == 0 && opts.Cursor == "" {
		if err := s.requireFolder(ctx, "list", folderID); err != nil {
			return nil, err
		}
	}
	if opts.CursorOnly {
		return page, nil
	}

	page.Items = make([]models.Item, 0, len(res.Prefixes)+len(res.Objects))
	for _, p := range res.Prefixes {
		page.Items = append(page.Items, s.folderItem(p, time.Time{}))
	}
	for _, o := range res.Objects {
		if o.Key == prefix {
			continue // marker of the listed folder itself
		}
		page.Items = append(page.Items, s.fileItem(o))
	}
	return page, nil
}

// CreateFolder implements store.Store by writing a folder marker.
func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (*models.Item, error) {
	if err := validName("folder name", name); err != nil {
		return nil, err
	}
	if err := s.requireFolder(ctx, "create folder", parentID); err != nil {
		return nil, err
	}
	prefix := s.key(store.PrefixFolderID(store.ChildKey(parentID, name)))
	if err := s.bucket.Put(ctx, prefix, FolderMIMEType, bytes.NewReader(nil), 0); err != nil {
		return nil, apperrors.NewTransient("create folder", err)
	}
	s.logger.Debug().Str("backend", s.name).Str("prefix", prefix).Msg("folder marker written")
	item := s.folderItem(prefix, s.now().UTC())
	return &item, nil
}

// UploadFile implements store.Store. Content that is not seekable is
// buffered first since the SDKs need to rewind bodies for signing.
func (s *Store) UploadFile(ctx context.Context, req store.UploadRequest) (*models.Item, error) {
	if err := validName("file name", req.Name); err != nil {
		return nil, err
	}
	if err := s.requireFolder(ctx, "upload", req.ParentID); err != nil {
		return nil, err
	}

	var body io.ReadSeeker
	size := req.Size
	switch c := req.Content.(type) {
	case nil:
		body, size = bytes.NewReader(nil), 0
	case io.ReadSeeker:
		body = c
	default:
		data, err := io.ReadAll(c)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", req.Name, err)
		}
		body, size = bytes.NewReader(data), int64(len(data))
	}

	ct := req.MimeType
	if ct == "" {
		ct = guessMIME(req.Name)
	}
	key := s.key(store.ChildKey(req.ParentID, req.Name))
	if err := s.bucket.Put(ctx, key, ct, body, size); err != nil {
		return nil, apperrors.NewTransient("upload", err)
	}
	item := s.fileItem(Object{Key: key, Size: size, ContentType: ct, LastModified: s.now().UTC()})
	return &item, nil
}

// FetchFileBytes implements store.Store.
func (s *Store) FetchFileBytes(ctx context.Context, fileID string) ([]byte, error) {
	if isFolderID(fileID) {
		return nil, fmt.Errorf("file %q: %w", fileID, apperrors.ErrNotFound)
	}
	data, err := s.bucket.Get(ctx, s.key(fileID), 0)
	if err != nil {
		return nil, apperrors.NewTransient("fetch", err)
	}
	return data, nil
}

// FetchFileTextPreview implements store.Store. Long files are cut at
// constants.MaxPreviewBytes.
func (s *Store) FetchFileTextPreview(ctx context.Context, fileID string) (string, error) {
	if isFolderID(fileID) {
		return "", fmt.Errorf("file %q: %w", fileID, apperrors.ErrNotFound)
	}
	data, err := s.bucket.Get(ctx, s.key(fileID), constants.MaxPreviewBytes)
	if err != nil {
		return "", apperrors.NewTransient("preview", err)
	}
	return string(data), nil
}

// GetItem implements store.ItemGetter.
func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	if isFolderID(id) {
		if err := s.requireFolder(ctx, "get item", id); err != nil {
			return nil, err
		}
		item := s.folderItem(s.key(id), time.Time{})
		return &item, nil
	}
	o, err := s.bucket.Head(ctx, s.key(id))
	if err != nil {
		return nil, apperrors.NewTransient("get item", err)
	}
	item := s.fileItem(*o)
	return &item, nil
}

// DeleteItem implements store.Deleter. Deleting a folder removes every key
// under its prefix, marker included.
func (s *Store) DeleteItem(ctx context.Context, id string) (string, error) {
	if id == store.RootFolderID {
		return "", &apperrors.ValidationError{Field: "id", Value: id, Reason: "the root folder cannot be deleted"}
	}
	parent := store.ParentPrefix(id)

	if !isFolderID(id) {
		if _, err := s.bucket.Head(ctx, s.key(id)); err != nil {
			return "", apperrors.NewTransient("delete", err)
		}
		if err := s.bucket.Delete(ctx, []string{s.key(id)}); err != nil {
			return "", apperrors.NewTransient("delete", err)
		}
		return parent, nil
	}

	keys, err := s.allKeys(ctx, s.key(id))
	if err != nil {
		return "", apperrors.NewTransient("delete", err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("folder %q: %w", id, apperrors.ErrNotFound)
	}
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.bucket.Delete(ctx, keys[start:end]); err != nil {
			return "", apperrors.NewTransient("delete", err)
		}
	}
	s.logger.Info().Str("backend", s.name).Str("folder", id).Int("objects", len(keys)).Msg("folder deleted")
	return parent, nil
}

func (s *Store) allKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.bucket.List(ctx, ListInput{Prefix: prefix, Token: token, Limit: deleteBatchSize, Recursive: true})
		if err != nil {
			return nil, err
		}
		for _, o := range res.Objects {
			keys = append(keys, o.Key)
		}
		if res.NextToken == "" {
			return keys, nil
		}
		token = res.NextToken
	}
}

// ReadLimited reads up to limit bytes from r; limit <= 0 reads everything.
// Backends use it for ranged previews when the SDK reply is a stream.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit)
	}
	return io.ReadAll(r)
}

// NotFound wraps a backend-specific missing-key error.
func NotFound(key string, err error) error {
	return fmt.Errorf("%s: %w", key, errors.Join(apperrors.ErrNotFound, err))
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.ItemGetter = (*Store)(nil)
	_ store.Deleter    = (*Store)(nil)
)

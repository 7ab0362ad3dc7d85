// Package memstore is an in-process Store used by tests and the "memory"
// backend. It issues opaque, forward-only cursors that are invalidated by
// any mutation of the listed folder, and supports failure injection.
package memstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
)

// ErrInvalidCursor is returned for cursors that were not issued for the
// requested folder and page size, or that predate a mutation of the folder.
var ErrInvalidCursor = errors.New("invalid or expired cursor")

type node struct {
	item     models.Item
	parentID string
	data     []byte
}

// Store is a thread-safe in-memory store.
type Store struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	children map[string][]string // parent ID -> child IDs in creation order
	versions map[string]int      // parent ID -> mutation counter bound into cursors
	nextID   int
	now      func() time.Time
	quota    int64

	// Failure injection. Each hook may return a non-nil error to fail the call.
	FailList   func(folderID, cursor string) error
	FailUpload func(req store.UploadRequest) error
	FailFetch  func(fileID string) error

	listCalls       int
	cursorOnlyCalls int
}

// Option configures a Store.
type Option func(*Store)

// WithClock makes creation timestamps deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithQuota sets the total capacity reported by StorageQuota.
func WithQuota(total int64) Option {
	return func(s *Store) { s.quota = total }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		nodes:    make(map[string]*node),
		children: make(map[string][]string),
		versions: make(map[string]int),
		now:      time.Now,
		quota:    15 * 1024 * 1024 * 1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SteppingClock returns a clock that starts at base and advances one second per call.
func SteppingClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	t := base
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur := t
		t = t.Add(time.Second)
		return cur
	}
}

// AddFolder seeds a folder and returns it.
func (s *Store) AddFolder(parentID, name string) models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(parentID, models.Item{Name: name, IsFolder: true, MimeType: "application/vnd.folder"}, nil)
}

// AddFile seeds a file and returns it.
func (s *Store) AddFile(parentID, name, mimeType string, data []byte) models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := int64(len(data))
	return s.insert(parentID, models.Item{Name: name, MimeType: mimeType, Size: &size}, data)
}

// insert requires s.mu held.
func (s *Store) insert(parentID string, item models.Item, data []byte) models.Item {
	s.nextID++
	item.ID = "id-" + strconv.Itoa(s.nextID)
	item.CreatedAt = s.now()
	s.nodes[item.ID] = &node{item: item, parentID: parentID, data: data}
	s.children[parentID] = append(s.children[parentID], item.ID)
	s.versions[parentID]++
	return item
}

// ListCalls returns the number of full and cursor-only listing calls served.
func (s *Store) ListCalls() (full, cursorOnly int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCalls, s.cursorOnlyCalls
}

// ResetCounters zeroes the call counters.
func (s *Store) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls, s.cursorOnlyCalls = 0, 0
}

func (s *Store) folderExists(id string) bool {
	if id == store.RootFolderID {
		return true
	}
	n, ok := s.nodes[id]
	return ok && n.item.IsFolder
}

func encodeCursor(folderID string, pageSize, offset, version int) string {
	raw := fmt.Sprintf("%s|%d|%d|%d", folderID, pageSize, offset, version)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(c string) (folderID string, pageSize, offset, version int, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return "", 0, 0, 0, ErrInvalidCursor
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return "", 0, 0, 0, ErrInvalidCursor
	}
	nums := make([]int, 3)
	for i, p := range parts[1:] {
		if nums[i], err = strconv.Atoi(p); err != nil {
			return "", 0, 0, 0, ErrInvalidCursor
		}
	}
	return parts[0], nums[0], nums[1], nums[2], nil
}

// ListFolder implements store.Store.
func (s *Store) ListFolder(ctx context.Context, folderID string, opts store.ListOptions) (*models.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.listCalls++
	if opts.CursorOnly {
		s.cursorOnlyCalls++
	}
	hook := s.FailList
	s.mu.Unlock()

	if hook != nil {
		if err := hook(folderID, opts.Cursor); err != nil {
			return nil, apperrors.NewTransient("list", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.folderExists(folderID) {
		return nil, fmt.Errorf("folder %q: %w", folderID, apperrors.ErrNotFound)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	ids := s.children[folderID]
	version := s.versions[folderID]
	offset := 0
	if opts.Cursor != "" {
		cf, cs, co, cv, err := decodeCursor(opts.Cursor)
		if err != nil || cf != folderID || cs != pageSize || cv != version {
			return nil, apperrors.NewTransient("list", ErrInvalidCursor)
		}
		offset = co
	}

	end := offset + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	page := &models.ListPage{TotalCount: len(ids)}
	if end < len(ids) {
		page.NextCursor = encodeCursor(folderID, pageSize, end, version)
	}
	if opts.CursorOnly {
		return page, nil
	}
	page.Items = make([]models.Item, 0, end-offset)
	for _, id := range ids[offset:end] {
		page.Items = append(page.Items, s.nodes[id].item)
	}
	return page, nil
}

// CreateFolder implements store.Store.
func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, &apperrors.ValidationError{Field: "folder name", Value: name, Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.folderExists(parentID) {
		return nil, fmt.Errorf("parent %q: %w", parentID, apperrors.ErrNotFound)
	}
	item := s.insert(parentID, models.Item{Name: name, IsFolder: true, MimeType: "application/vnd.folder"}, nil)
	return &item, nil
}

// UploadFile implements store.Store.
func (s *Store) UploadFile(ctx context.Context, req store.UploadRequest) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	hook := s.FailUpload
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(req); err != nil {
			return nil, apperrors.NewTransient("upload", err)
		}
	}

	var buf bytes.Buffer
	if req.Content != nil {
		if _, err := io.Copy(&buf, req.Content); err != nil {
			return nil, fmt.Errorf("read upload content: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.folderExists(req.ParentID) {
		return nil, fmt.Errorf("parent %q: %w", req.ParentID, apperrors.ErrNotFound)
	}
	size := int64(buf.Len())
	item := s.insert(req.ParentID, models.Item{Name: req.Name, MimeType: req.MimeType, Size: &size}, buf.Bytes())
	return &item, nil
}

// FetchFileBytes implements store.Store.
func (s *Store) FetchFileBytes(ctx context.Context, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	hook := s.FailFetch
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(fileID); err != nil {
			return nil, apperrors.NewTransient("fetch", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[fileID]
	if !ok || n.item.IsFolder {
		return nil, fmt.Errorf("file %q: %w", fileID, apperrors.ErrNotFound)
	}
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

// FetchFileTextPreview implements store.Store.
func (s *Store) FetchFileTextPreview(ctx context.Context, fileID string) (string, error) {
	data, err := s.FetchFileBytes(ctx, fileID)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetItem implements store.ItemGetter.
func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("item %q: %w", id, apperrors.ErrNotFound)
	}
	item := n.item
	return &item, nil
}

// DeleteItem implements store.Deleter. Folders are removed with their contents.
func (s *Store) DeleteItem(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return "", fmt.Errorf("item %q: %w", id, apperrors.ErrNotFound)
	}
	parent := n.parentID
	siblings := s.children[parent]
	for i, cid := range siblings {
		if cid == id {
			s.children[parent] = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	s.versions[parent]++
	s.removeTree(id)
	return parent, nil
}

// removeTree requires s.mu held.
func (s *Store) removeTree(id string) {
	for _, cid := range s.children[id] {
		s.removeTree(cid)
	}
	delete(s.children, id)
	delete(s.versions, id)
	delete(s.nodes, id)
}

// StorageQuota implements store.QuotaReporter.
func (s *Store) StorageQuota(ctx context.Context) (*models.StorageQuota, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var used int64
	for _, n := range s.nodes {
		used += int64(len(n.data))
	}
	return &models.StorageQuota{Total: s.quota, Used: used, Remaining: s.quota - used}, nil
}

var (
	_ store.Store         = (*Store)(nil)
	_ store.QuotaReporter = (*Store)(nil)
	_ store.Deleter       = (*Store)(nil)
	_ store.ItemGetter    = (*Store)(nil)
)

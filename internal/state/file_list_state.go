// Package state provides the observable listing state the CLI renders from.
package state

import (
	"sync"
	"time"

	"github.com/rescale/rescale-drive/internal/events"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/view"
)

// Snapshot is a consistent copy of the state.
type Snapshot struct {
	FolderID   string
	Page       int
	TotalCount int
	HasMore    bool
	Items      []models.Item // raw page, store order
	Rendered   []models.Item // after the view pipeline
	Extensions []string
	Filter     models.ViewFilter
	LastError  error
}

// FileListState holds the last successfully applied listing page and the
// view filter. A failed load only records the error; the items stay those
// of the last successful fetch.
type FileListState struct {
	eventBus *events.EventBus

	folderID   string
	page       int
	totalCount int
	hasMore    bool
	items      []models.Item
	filter     models.ViewFilter
	lastError  error

	mu sync.RWMutex
}

// NewFileListState creates an empty state with the given filter.
func NewFileListState(filter models.ViewFilter, eventBus *events.EventBus) *FileListState {
	return &FileListState{
		eventBus: eventBus,
		page:     1,
		filter:   filter,
		items:    make([]models.Item, 0),
		// unknown until the first page is applied
		totalCount: -1,
	}
}

// Apply replaces the displayed page.
func (s *FileListState) Apply(folderID string, page int, lp *models.ListPage, fromCache bool) {
	s.mu.Lock()
	s.folderID = folderID
	s.page = page
	s.totalCount = lp.TotalCount
	s.hasMore = lp.HasMore()
	s.items = make([]models.Item, len(lp.Items))
	copy(s.items, lp.Items)
	s.lastError = nil
	count := len(s.items)
	s.mu.Unlock()

	s.eventBus.Publish(&events.ListingEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventListingLoaded, Time: time.Now()},
		FolderID:  folderID,
		Page:      page,
		ItemCount: count,
		FromCache: fromCache,
	})
}

// SetError records a failed load without touching the displayed items.
func (s *FileListState) SetError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

// SetFilter changes the view filter.
func (s *FileListState) SetFilter(f models.ViewFilter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// Filter returns the current view filter.
func (s *FileListState) Filter() models.ViewFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Snapshot returns the state with the view pipeline applied.
func (s *FileListState) Snapshot() Snapshot {
	s.mu.RLock()
	items := make([]models.Item, len(s.items))
	copy(items, s.items)
	snap := Snapshot{
		FolderID:   s.folderID,
		Page:       s.page,
		TotalCount: s.totalCount,
		HasMore:    s.hasMore,
		Items:      items,
		Filter:     s.filter,
		LastError:  s.lastError,
	}
	s.mu.RUnlock()

	snap.Rendered = view.DeriveView(items, snap.Filter)
	snap.Extensions = view.Extensions(items)
	return snap
}

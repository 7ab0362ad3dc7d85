// Package listing owns the per-folder listing cache and the Browser that
// combines navigation, cursor resolution, caching and view state.
package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/events"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/models"
)

// Invalidator is implemented by anything holding listings that a mutation
// of a folder makes obsolete.
type Invalidator interface {
	Invalidate(folderID string)
}

// FetchFunc loads one page. It returns the page and the page number it
// actually addresses, which is lower than requested when the folder ran out
// of pages.
type FetchFunc func(ctx context.Context) (*models.ListPage, int, error)

// Result is a page served by the cache.
type Result struct {
	Page      *models.ListPage
	Number    int
	FromCache bool
}

type pageKey struct {
	pageSize int
	page     int
}

type cachedPage struct {
	page     *models.ListPage
	number   int
	storedAt time.Time
}

// Cache holds listing pages keyed by folder. It is never patched in place:
// a mutation of a folder drops every cached page of that folder, because
// cursors past page 1 do not survive content changes.
type Cache struct {
	mu      sync.RWMutex
	folders map[string]map[pageKey]cachedPage
	epochs  map[string]uint64 // bumped on invalidation; guards in-flight fills
	global  uint64            // bumped by InvalidateAll
	ttl     time.Duration     // 0 keeps pages until invalidated
	now     func() time.Time

	group    singleflight.Group
	eventBus *events.EventBus
}

// NewCache creates a cache. ttl 0 disables time-based expiry.
func NewCache(ttl time.Duration, eventBus *events.EventBus) *Cache {
	return &Cache{
		folders:  make(map[string]map[pageKey]cachedPage),
		epochs:   make(map[string]uint64),
		ttl:      ttl,
		now:      time.Now,
		eventBus: eventBus,
	}
}

// Key maps a folder ID to its cache key; the root folder uses RootCacheKey.
func Key(folderID string) string {
	if folderID == "" {
		return constants.RootCacheKey
	}
	return folderID
}

// Get returns a cached page if present and fresh.
func (c *Cache) Get(folderID string, pageSize, page int) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.folders[Key(folderID)][pageKey{pageSize, page}]
	if !ok {
		return Result{}, false
	}
	if c.ttl > 0 && c.now().Sub(cp.storedAt) > c.ttl {
		return Result{}, false
	}
	return Result{Page: cp.page, Number: cp.number, FromCache: true}, true
}

// Load returns the cached page or fills it with fetch. Concurrent loads of
// the same page share one fetch. A fill that raced with an invalidation of
// its folder is returned to the caller but not stored.
//
// The shared fetch runs on the context of the caller that started it. A
// caller that joined a fetch whose owner was cancelled, while its own ctx is
// still live, starts over with a fresh fetch instead of inheriting the
// cancellation.
func (c *Cache) Load(ctx context.Context, folderID string, pageSize, page int, fetch FetchFunc) (Result, error) {
	if r, ok := c.Get(folderID, pageSize, page); ok {
		metrics.RecordCache("hit")
		return r, nil
	}
	metrics.RecordCache("miss")

	key := Key(folderID)
	c.mu.RLock()
	epoch := c.epochs[key] + c.global
	c.mu.RUnlock()

	flight := fmt.Sprintf("%s|%d|%d", key, pageSize, page)
	for attempt := 1; ; attempt++ {
		ch := c.group.DoChan(flight, func() (interface{}, error) {
			lp, number, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			c.put(key, epoch, pageKey{pageSize, page}, lp, number)
			return Result{Page: lp, Number: number}, nil
		})

		select {
		case <-ctx.Done():
			// Later callers must not join a fetch that may die with us.
			c.group.Forget(flight)
			return Result{}, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				if r.Shared && ctx.Err() == nil && attempt < maxJoinAttempts && isCancellation(r.Err) {
					continue
				}
				return Result{}, r.Err
			}
			return r.Val.(Result), nil
		}
	}
}

const maxJoinAttempts = 3

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Cache) put(key string, epoch uint64, pk pageKey, lp *models.ListPage, number int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[key]+c.global != epoch {
		return
	}
	pages, ok := c.folders[key]
	if !ok {
		pages = make(map[pageKey]cachedPage)
		c.folders[key] = pages
	}
	pages[pk] = cachedPage{page: lp, number: number, storedAt: c.now()}
}

// Invalidate drops every cached page of folderID.
func (c *Cache) Invalidate(folderID string) {
	key := Key(folderID)
	c.mu.Lock()
	delete(c.folders, key)
	c.epochs[key]++
	c.mu.Unlock()

	metrics.RecordCache("invalidate")
	c.eventBus.Publish(&events.ListingEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventCacheInvalidated, Time: time.Now()},
		FolderID:  folderID,
	})
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.global++
	c.folders = make(map[string]map[pageKey]cachedPage)
	c.mu.Unlock()
	metrics.RecordCache("invalidate")
}

// Len returns the number of cached pages across all folders.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, pages := range c.folders {
		n += len(pages)
	}
	return n
}

package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/cursor"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/navigation"
	"github.com/rescale/rescale-drive/internal/state"
	"github.com/rescale/rescale-drive/internal/store"
	"github.com/rescale/rescale-drive/internal/view"
)

// BrowserConfig wires a Browser.
type BrowserConfig struct {
	Store    store.Store
	Cache    *Cache
	Nav      *navigation.Stack
	State    *state.FileListState
	PageSize int
	Logger   *logging.Logger
	// RootFolderID is the folder listed while the navigation stack is
	// empty. Empty means the store's own root.
	RootFolderID string
}

// Browser loads the page selected by the navigation stack into the list
// state. Results that resolve after a newer navigation are discarded.
type Browser struct {
	store    store.Store
	walker   *cursor.Walker
	cache    *Cache
	nav      *navigation.Stack
	state    *state.FileListState
	pageSize int
	rootID   string
	logger   *logging.Logger

	// applyMu makes "is this result still current" and "apply it" one step.
	applyMu sync.Mutex

	inflightMu sync.Mutex
	cancel     context.CancelFunc
}

// NewBrowser creates a Browser. Missing collaborators get fresh defaults.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.Cache == nil {
		cfg.Cache = NewCache(0, nil)
	}
	if cfg.Nav == nil {
		cfg.Nav = navigation.NewStack(nil)
	}
	if cfg.State == nil {
		cfg.State = state.NewFileListState(models.DefaultViewFilter(), nil)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultPageSize
	}
	logger := logging.OrNop(cfg.Logger)
	return &Browser{
		store:    cfg.Store,
		walker:   cursor.NewWalker(cfg.Store, logger),
		cache:    cfg.Cache,
		nav:      cfg.Nav,
		state:    cfg.State,
		pageSize: cfg.PageSize,
		rootID:   cfg.RootFolderID,
		logger:   logger,
	}
}

// folder maps the navigation stack's root to the configured root folder.
func (b *Browser) folder(navID string) string {
	if navID == "" {
		return b.rootID
	}
	return navID
}

// Nav exposes the navigation stack.
func (b *Browser) Nav() *navigation.Stack { return b.nav }

// Cache exposes the listing cache.
func (b *Browser) Cache() *Cache { return b.cache }

// State exposes the list state.
func (b *Browser) State() *state.FileListState { return b.state }

// PageSize returns the listing page size.
func (b *Browser) PageSize() int { return b.pageSize }

// Load fetches the page the navigation stack currently points at and applies
// it to the list state. It returns apperrors.ErrStale when a newer navigation
// or a newer Load superseded the request; the state is left untouched in that
// case and on any error.
func (b *Browser) Load(ctx context.Context) (*state.Snapshot, error) {
	tok := b.nav.Snapshot()

	b.inflightMu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	lctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.inflightMu.Unlock()
	defer cancel()

	folderID := b.folder(tok.FolderID)
	res, err := b.cache.Load(lctx, folderID, b.pageSize, tok.Page, func(ctx context.Context) (*models.ListPage, int, error) {
		return b.fetch(ctx, folderID, tok.Page)
	})

	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	// A newer Load cancelled lctx; the caller's own ctx is still live.
	superseded := err != nil && lctx.Err() != nil && ctx.Err() == nil
	if superseded || !b.nav.IsCurrent(tok) {
		metrics.RecordCache("stale")
		b.logger.Debug().Str("folder", folderID).Int("page", tok.Page).Msg("discarding superseded listing")
		return nil, apperrors.ErrStale
	}
	if err != nil {
		b.state.SetError(err)
		return nil, err
	}

	if res.Number != tok.Page {
		b.nav.Settle(tok, res.Number)
	}
	b.state.Apply(folderID, res.Number, res.Page, res.FromCache)
	snap := b.state.Snapshot()
	return &snap, nil
}

func (b *Browser) fetch(ctx context.Context, folderID string, page int) (*models.ListPage, int, error) {
	cur, reached, err := b.walker.ResolvePage(ctx, folderID, b.pageSize, page)
	if err != nil {
		return nil, 0, err
	}
	lp, err := b.store.ListFolder(ctx, folderID, store.ListOptions{PageSize: b.pageSize, Cursor: cur})
	metrics.RecordListing(false, err == nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		return nil, 0, &apperrors.ListingUnavailableError{
			FolderID: folderID,
			Page:     page,
			Err:      apperrors.NewTransient("list", err),
		}
	}
	b.logger.Debug().
		Str("folder", folderID).
		Int("page", reached).
		Int("items", len(lp.Items)).
		Msg("listing fetched")
	return lp, reached, nil
}

// Open descends into a folder item of the current listing.
func (b *Browser) Open(item models.Item) error {
	if !item.IsFolder {
		return fmt.Errorf("%q is not a folder", item.Name)
	}
	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	b.nav.Push(models.NavigationFrame{FolderID: item.ID, FolderName: item.Name})
	return nil
}

// Up goes back one level; false at the root, configured or not.
func (b *Browser) Up() bool {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	return b.nav.Pop()
}

// Crumb jumps to breadcrumb index i (-1 for root).
func (b *Browser) Crumb(i int) error {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	return b.nav.TruncateTo(i)
}

// GoToPage selects page n of the current folder. When the total count is
// known the page is clamped to the last page.
func (b *Browser) GoToPage(n int) {
	snap := b.state.Snapshot()
	if snap.FolderID == b.folder(b.nav.Current()) && snap.TotalCount >= 0 {
		if last := view.TotalPages(snap.TotalCount, b.pageSize); n > last {
			n = last
		}
	}
	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	b.nav.SetPage(n)
}

// NextPage advances when the current page reported more; false otherwise.
func (b *Browser) NextPage() bool {
	snap := b.state.Snapshot()
	if !snap.HasMore {
		return false
	}
	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	b.nav.SetPage(b.nav.Page() + 1)
	return true
}

// PrevPage goes back one page; false on page 1.
func (b *Browser) PrevPage() bool {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()
	p := b.nav.Page()
	if p <= 1 {
		return false
	}
	b.nav.SetPage(p - 1)
	return true
}

// Refresh drops the current folder's cached pages.
func (b *Browser) Refresh() {
	b.cache.Invalidate(b.folder(b.nav.Current()))
}

// SetFilter changes the view filter; no fetch is needed.
func (b *Browser) SetFilter(f models.ViewFilter) state.Snapshot {
	b.state.SetFilter(f)
	return b.state.Snapshot()
}

// FindInPage looks an item up by ID or exact name in the displayed page.
func (b *Browser) FindInPage(ref string) (models.Item, bool) {
	for _, it := range b.state.Snapshot().Items {
		if it.ID == ref || it.Name == ref {
			return it, true
		}
	}
	return models.Item{}, false
}

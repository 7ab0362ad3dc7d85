// Package cursor resolves the opaque pagination cursor for an arbitrary page
// by replaying the listing from the first page.
package cursor

import (
	"context"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
)

// Lister is the part of store.Store the walker needs.
type Lister interface {
	ListFolder(ctx context.Context, folderID string, opts store.ListOptions) (*models.ListPage, error)
}

// Walker replays cursor-only listing calls to reach a target page.
type Walker struct {
	lister Lister
	logger *logging.Logger
}

// NewWalker creates a walker over lister.
func NewWalker(lister Lister, logger *logging.Logger) *Walker {
	return &Walker{lister: lister, logger: logging.OrNop(logger)}
}

// Resolve returns the cursor that fetches targetPage of folderID.
//
// Page 1 (or lower) needs no cursor and returns "" without any call. For
// later pages exactly targetPage-1 calls are issued, strictly one after the
// other, each consuming the cursor returned by the previous one. If the store
// runs out of pages first, the last cursor obtained is returned: the caller
// lands on the last page instead of getting an error.
//
// Any failure aborts the walk with a *apperrors.ListingUnavailableError and
// discards the partial cursor.
func (w *Walker) Resolve(ctx context.Context, folderID string, pageSize, targetPage int) (string, error) {
	cursor, _, err := w.ResolvePage(ctx, folderID, pageSize, targetPage)
	return cursor, err
}

// ResolvePage is Resolve that also reports which page the returned cursor
// addresses: targetPage, or the last page when the folder is shorter.
func (w *Walker) ResolvePage(ctx context.Context, folderID string, pageSize, targetPage int) (string, int, error) {
	if targetPage <= 1 {
		metrics.RecordCursorWalk(0)
		return "", 1, nil
	}

	cursor := ""
	reached := 1
	steps := 0
	for step := 1; step < targetPage; step++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		page, err := w.lister.ListFolder(ctx, folderID, store.ListOptions{
			PageSize:   pageSize,
			Cursor:     cursor,
			CursorOnly: true,
		})
		steps++
		metrics.RecordListing(true, err == nil)
		if err != nil {
			w.logger.Warn().
				Str("folder", folderID).
				Int("target_page", targetPage).
				Int("step", step).
				Err(err).
				Msg("cursor walk aborted")
			return "", 0, &apperrors.ListingUnavailableError{
				FolderID: folderID,
				Page:     targetPage,
				Err:      apperrors.NewTransient("list", err),
			}
		}
		if !page.HasMore() {
			w.logger.Debug().
				Str("folder", folderID).
				Int("target_page", targetPage).
				Int("last_page", step).
				Msg("folder has fewer pages than requested")
			break
		}
		cursor = page.NextCursor
		reached = step + 1
	}

	metrics.RecordCursorWalk(steps)
	return cursor, reached, nil
}

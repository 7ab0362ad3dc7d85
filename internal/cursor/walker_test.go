package cursor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
	"github.com/rescale/rescale-drive/internal/store/memstore"
)

// stubLister serves pages whose next cursors are c1..cN. The page fetched
// with cursor c(i) returns c(i+1); the last page returns no cursor.
type stubLister struct {
	pages    int
	calls    int
	received []string
	failAt   int // 1-based call number that fails; 0 never
}

func (s *stubLister) ListFolder(_ context.Context, _ string, opts store.ListOptions) (*models.ListPage, error) {
	s.calls++
	s.received = append(s.received, opts.Cursor)
	if !opts.CursorOnly {
		return nil, errors.New("walker must request cursor-only listings")
	}
	if s.failAt == s.calls {
		return nil, errors.New("connection refused")
	}

	index := 0
	if opts.Cursor != "" {
		if _, err := fmt.Sscanf(opts.Cursor, "c%d", &index); err != nil {
			return nil, err
		}
	}
	next := ""
	if index+1 < s.pages {
		next = fmt.Sprintf("c%d", index+1)
	}
	return &models.ListPage{NextCursor: next, TotalCount: -1}, nil
}

func TestResolve_IssuesKMinusOneSequentialCalls(t *testing.T) {
	for k := 1; k <= 6; k++ {
		t.Run(fmt.Sprintf("page_%d", k), func(t *testing.T) {
			stub := &stubLister{pages: 10}
			w := NewWalker(stub, nil)

			got, err := w.Resolve(context.Background(), "folder", 9, k)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if stub.calls != k-1 {
				t.Errorf("Expected %d calls, got %d", k-1, stub.calls)
			}
			want := ""
			if k > 1 {
				want = fmt.Sprintf("c%d", k-1)
			}
			if got != want {
				t.Errorf("Expected cursor %q, got %q", want, got)
			}
			// Each call must consume the cursor returned by the previous one
			for i, c := range stub.received {
				expected := ""
				if i > 0 {
					expected = fmt.Sprintf("c%d", i)
				}
				if c != expected {
					t.Errorf("Call %d used cursor %q, want %q", i+1, c, expected)
				}
			}
		})
	}
}

func TestResolve_StopsEarlyAtLastPage(t *testing.T) {
	stub := &stubLister{pages: 3}
	w := NewWalker(stub, nil)

	got, err := w.Resolve(context.Background(), "folder", 9, 8)
	if err != nil {
		t.Fatalf("Resolve should not fail past the last page: %v", err)
	}
	if got != "c2" {
		t.Errorf("Expected last cursor c2, got %q", got)
	}
	if stub.calls != 3 {
		t.Errorf("Expected walk to stop after 3 calls, got %d", stub.calls)
	}
}

func TestResolve_SinglePageFolder(t *testing.T) {
	stub := &stubLister{pages: 1}
	got, err := NewWalker(stub, nil).Resolve(context.Background(), "folder", 9, 4)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "" {
		t.Errorf("Expected empty cursor for single-page folder, got %q", got)
	}
}

func TestResolve_NetworkErrorAborts(t *testing.T) {
	stub := &stubLister{pages: 10, failAt: 2}
	w := NewWalker(stub, nil)

	got, err := w.Resolve(context.Background(), "folder", 9, 5)
	if got != "" {
		t.Errorf("Partial cursor must be discarded, got %q", got)
	}
	var lu *apperrors.ListingUnavailableError
	if !errors.As(err, &lu) {
		t.Fatalf("Expected ListingUnavailableError, got %v", err)
	}
	if lu.Page != 5 || lu.FolderID != "folder" {
		t.Errorf("Unexpected error details: %+v", lu)
	}
	if !apperrors.IsTransient(err) {
		t.Error("Expected the cause to be a transient network error")
	}
	if stub.calls != 2 {
		t.Errorf("Expected walk to stop at failing call, got %d calls", stub.calls)
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	stub := &stubLister{pages: 10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewWalker(stub, nil).Resolve(ctx, "folder", 9, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if stub.calls != 0 {
		t.Errorf("Expected no calls after cancellation, got %d", stub.calls)
	}
}

func TestResolve_AgainstMemStore(t *testing.T) {
	ms := memstore.New()
	folder := ms.AddFolder("", "data")
	for i := 0; i < 20; i++ {
		ms.AddFile(folder.ID, fmt.Sprintf("f%02d.txt", i), "text/plain", nil)
	}
	w := NewWalker(ms, nil)
	ctx := context.Background()

	cursor, err := w.Resolve(ctx, folder.ID, 9, 3)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	page, err := ms.ListFolder(ctx, folder.ID, store.ListOptions{PageSize: 9, Cursor: cursor})
	if err != nil {
		t.Fatalf("ListFolder failed: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].Name != "f18.txt" {
		t.Errorf("Expected last page with f18.txt and f19.txt, got %d items", len(page.Items))
	}
	_, cursorOnly := ms.ListCalls()
	if cursorOnly != 2 {
		t.Errorf("Expected 2 cursor-only calls, got %d", cursorOnly)
	}
}

func TestResolvePage_ReportsReachedPage(t *testing.T) {
	tests := []struct {
		pages, target, wantPage int
		wantCursor              string
	}{
		{10, 1, 1, ""},
		{10, 4, 4, "c3"},
		{3, 8, 3, "c2"},
		{1, 5, 1, ""},
	}
	for _, tt := range tests {
		cursor, page, err := NewWalker(&stubLister{pages: tt.pages}, nil).ResolvePage(context.Background(), "f", 9, tt.target)
		if err != nil {
			t.Fatalf("ResolvePage(%d of %d) failed: %v", tt.target, tt.pages, err)
		}
		if cursor != tt.wantCursor || page != tt.wantPage {
			t.Errorf("ResolvePage(%d of %d) = (%q, %d), want (%q, %d)", tt.target, tt.pages, cursor, page, tt.wantCursor, tt.wantPage)
		}
	}
}

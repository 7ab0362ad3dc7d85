package services

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rescale/rescale-drive/internal/api"
	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
	"github.com/rescale/rescale-drive/internal/store/memstore"
	"github.com/rescale/rescale-drive/internal/transfer"
)

func newTestDrive(t *testing.T, mutate func(*config.Config)) (*Drive, *memstore.Store) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Store.Backend = config.BackendMemory
	if mutate != nil {
		mutate(cfg)
	}
	ms := memstore.New()
	return NewDrive(ms, Options{Config: cfg}), ms
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	cfg := config.NewConfig()
	cfg.Store.Backend = config.BackendMemory
	s, err := OpenStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := s.(*memstore.Store); !ok {
		t.Errorf("expected *memstore.Store, got %T", s)
	}

	cfg.Store.Backend = config.BackendHTTP
	cfg.Store.BaseURL = "https://drive.example.com"
	cfg.Store.APIKey = "k"
	s, err = OpenStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("http backend: %v", err)
	}
	if _, ok := s.(*api.Client); !ok {
		t.Errorf("expected *api.Client, got %T", s)
	}

	cfg.Store.Backend = config.BackendS3
	if _, err := OpenStore(ctx, cfg, nil); !errors.Is(err, config.ErrMissingBucket) {
		t.Errorf("s3 without bucket: got %v", err)
	}

	cfg.Store.Backend = "ftp"
	if _, err := OpenStore(ctx, cfg, nil); !errors.Is(err, config.ErrUnknownBackend) {
		t.Errorf("unknown backend: got %v", err)
	}
}

func TestListPageUsesCacheUntilMutation(t *testing.T) {
	d, ms := newTestDrive(t, func(c *config.Config) { c.View.PageSize = 2 })
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		ms.AddFile("", n, "text/plain", []byte(n))
	}
	ctx := context.Background()

	snap, err := d.ListPage(ctx, "", 2, models.DefaultViewFilter())
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if snap.Page != 2 || len(snap.Items) != 1 || snap.Items[0].Name != "c.txt" {
		t.Fatalf("unexpected page 2 %+v", snap)
	}

	ms.ResetCounters()
	if _, err := d.ListPage(ctx, "", 2, models.DefaultViewFilter()); err != nil {
		t.Fatal(err)
	}
	if full, cursorOnly := ms.ListCalls(); full != 0 || cursorOnly != 0 {
		t.Errorf("second load should be served from cache, got %d/%d calls", full, cursorOnly)
	}

	if _, err := d.CreateFolder(ctx, "new", ""); err != nil {
		t.Fatal(err)
	}
	if d.Cache().Len() != 0 {
		t.Errorf("creating a folder must drop the parent's pages, %d left", d.Cache().Len())
	}

	if _, err := d.CreateFolder(ctx, "a/b", ""); !apperrors.IsValidation(err) {
		t.Errorf("expected a validation error for a name with a separator, got %v", err)
	}
}

func TestListPageOvershootSettles(t *testing.T) {
	d, ms := newTestDrive(t, func(c *config.Config) { c.View.PageSize = 2 })
	folder := ms.AddFolder("", "docs")
	ms.AddFile(folder.ID, "x.md", "text/markdown", []byte("x"))

	snap, err := d.ListPage(context.Background(), folder.ID, 7, models.DefaultViewFilter())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Page != 1 || snap.FolderID != folder.ID || len(snap.Items) != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestUploadFromDisk(t *testing.T) {
	d, ms := newTestDrive(t, nil)
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "proj", "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"proj/readme.txt":   "hello",
		"proj/src/main.go":  "package main",
		"proj/.hidden.conf": "secret",
	}
	for rel, body := range files {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()

	flat, err := d.PrepareUpload(ctx, []string{filepath.Join(dir, "proj")}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(flat.Entries) != 2 {
		t.Fatalf("expected 2 visible files, got %d", len(flat.Entries))
	}

	var seen int32
	res, err := d.Upload(ctx, "", flat.Entries, transfer.BatchOptions{
		CreateFolders: true,
		OnEntry: func(done, total int, _ models.FlattenedEntry, err error) {
			atomic.AddInt32(&seen, 1)
		},
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Succeeded != 2 || atomic.LoadInt32(&seen) != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	page, err := ms.ListFolder(ctx, "", store.ListOptions{PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "proj" || !page.Items[0].IsFolder {
		t.Errorf("expected the proj folder at root, got %+v", page.Items)
	}
	if stats := d.Queue().GetStats(); stats.Done != 1 {
		t.Errorf("expected one completed task, got %+v", stats)
	}
}

func TestArchiveAndSave(t *testing.T) {
	d, ms := newTestDrive(t, nil)
	folder := ms.AddFolder("", "reports")
	ms.AddFile(folder.ID, "q1.csv", "text/csv", []byte("a,b"))
	ms.AddFile(folder.ID, "q2.csv", "text/csv", []byte("c,d"))
	ms.AddFolder(folder.ID, "old")

	var last int
	res, err := d.Archive(context.Background(), folder.ID, func(p int) { last = p })
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if last != 100 || res.Files != 2 || res.SkippedFolders != 1 {
		t.Errorf("unexpected result files=%d skipped=%d progress=%d", res.Files, res.SkippedFolders, last)
	}

	dest := filepath.Join(t.TempDir(), "out", "reports.zip")
	if err := d.SaveArchive(res, dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 2 {
		t.Errorf("expected 2 zip entries, got %d", len(zr.File))
	}
}

func TestDownloadRetriesTransientFetch(t *testing.T) {
	d, ms := newTestDrive(t, func(c *config.Config) { c.Transfer.HTTPRetries = 1 })
	f := ms.AddFile("", "data.bin", "application/octet-stream", []byte("0123456789"))

	var calls int32
	ms.FailFetch = func(string) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	dest := filepath.Join(t.TempDir(), "data.bin")
	n, err := d.Download(context.Background(), f.ID, dest, nil)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if n != 10 || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("n=%d calls=%d", n, calls)
	}
	if got, _ := os.ReadFile(dest); string(got) != "0123456789" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestDownloadWithoutRetriesFailsFast(t *testing.T) {
	d, ms := newTestDrive(t, nil)
	f := ms.AddFile("", "data.bin", "application/octet-stream", []byte("x"))
	var calls int32
	ms.FailFetch = func(string) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("connection reset by peer")
	}
	if _, err := d.Download(context.Background(), f.ID, filepath.Join(t.TempDir(), "x"), nil); !apperrors.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestPreviewItemDeleteQuota(t *testing.T) {
	d, ms := newTestDrive(t, nil)
	ctx := context.Background()
	folder := ms.AddFolder("", "notes")
	note := ms.AddFile(folder.ID, "todo.md", "text/markdown", []byte("# todo"))
	bin := ms.AddFile(folder.ID, "img.png", "image/png", []byte{0x89})

	text, truncated, err := d.Preview(ctx, note.ID)
	if err != nil || text != "# todo" || truncated {
		t.Errorf("Preview = %q, %v, %v", text, truncated, err)
	}
	if _, _, err := d.Preview(ctx, bin.ID); !apperrors.IsValidation(err) {
		t.Errorf("expected validation error for png, got %v", err)
	}

	item, err := d.Item(ctx, folder.ID)
	if err != nil || !item.IsFolder {
		t.Errorf("Item = %+v, %v", item, err)
	}

	if err := d.Delete(ctx, note.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Item(ctx, note.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("deleted item still resolves: %v", err)
	}

	q, err := d.Quota(ctx)
	if err != nil || q.Used != 1 {
		t.Errorf("Quota = %+v, %v", q, err)
	}
}

func TestRootFolderID(t *testing.T) {
	d, ms := newTestDrive(t, nil)
	home := ms.AddFolder("", "home")
	ms.AddFile(home.ID, "a.txt", "text/plain", []byte("a"))
	d.cfg.Store.RootFolderID = home.ID

	snap, err := d.ListPage(context.Background(), "", 1, models.DefaultViewFilter())
	if err != nil {
		t.Fatal(err)
	}
	if snap.FolderID != home.ID || len(snap.Items) != 1 {
		t.Errorf("expected the configured root, got %+v", snap)
	}
	if d.RootFolderID() != home.ID {
		t.Errorf("RootFolderID = %q", d.RootFolderID())
	}

	b := d.NewBrowser(models.DefaultViewFilter())
	if b.Up() {
		t.Error("Up must not leave the configured root")
	}
	snap, err = b.Load(context.Background())
	if err != nil || snap.FolderID != home.ID {
		t.Errorf("browser root = %+v, %v", snap, err)
	}
}

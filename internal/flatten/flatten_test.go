package flatten

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/rescale/rescale-drive/internal/localfs"
)

// buildTree creates a directory tree of the given depth where every level
// holds filesPerDir files and one sub-directory (except the deepest level).
func buildTree(name string, depth, filesPerDir, batchSize int) *MemDir {
	dir := &MemDir{DirName: name, BatchSize: batchSize}
	for i := 0; i < filesPerDir; i++ {
		dir.Children = append(dir.Children, &MemFile{
			FileName: fmt.Sprintf("file%d.txt", i),
			Data:     []byte(strings.Repeat("x", i)), // file0 is zero bytes
			MimeType: "text/plain",
		})
	}
	if depth > 1 {
		dir.Children = append(dir.Children, buildTree("sub", depth-1, filesPerDir, batchSize))
	}
	return dir
}

func paths(r *Result) []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.RelativePath
	}
	return out
}

func TestFlatten_CompletenessAndSeparators(t *testing.T) {
	const depth, perDir = 4, 3
	res, err := Flatten(context.Background(), []Entry{buildTree("root", depth, perDir, 2)}, Options{})
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if len(res.Entries) != depth*perDir {
		t.Fatalf("Expected %d entries, got %d", depth*perDir, len(res.Entries))
	}
	for _, e := range res.Entries {
		// root/file -> 1 separator, root/sub/file -> 2, ...
		level := strings.Count(e.RelativePath, "/sub")
		if got := strings.Count(e.RelativePath, "/"); got != level+1 {
			t.Errorf("%s: expected %d separators, got %d", e.RelativePath, level+1, got)
		}
		if !strings.HasPrefix(e.RelativePath, "root/") {
			t.Errorf("%s: expected path rooted at dropped directory", e.RelativePath)
		}
	}
	if len(res.Skipped) != 0 {
		t.Errorf("Expected no skipped entries, got %v", res.Skipped)
	}
}

func TestFlatten_BatchSizeDoesNotChangeOutput(t *testing.T) {
	ctx := context.Background()
	small, err := Flatten(ctx, []Entry{buildTree("root", 5, 7, 1)}, Options{})
	if err != nil {
		t.Fatalf("Flatten (batch 1) failed: %v", err)
	}
	large, err := Flatten(ctx, []Entry{buildTree("root", 5, 7, 50)}, Options{})
	if err != nil {
		t.Fatalf("Flatten (batch 50) failed: %v", err)
	}
	if !reflect.DeepEqual(paths(small), paths(large)) {
		t.Errorf("Batch size changed output:\n%v\n%v", paths(small), paths(large))
	}
	if len(small.Entries) != 35 {
		t.Errorf("Expected 35 entries, got %d", len(small.Entries))
	}
}

func TestFlatten_ZeroByteFilesAndEmptyDirectories(t *testing.T) {
	roots := []Entry{
		&MemDir{DirName: "empty"},
		&MemDir{DirName: "nested", Children: []Entry{&MemDir{DirName: "also-empty"}}},
		&MemFile{FileName: "blank.txt"},
	}
	res, err := Flatten(context.Background(), roots, Options{})
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("Expected only the zero-byte file, got %v", paths(res))
	}
	e := res.Entries[0]
	if e.RelativePath != "blank.txt" {
		t.Errorf("Root file should keep its bare name, got %q", e.RelativePath)
	}
	if e.Content.Size() != 0 {
		t.Errorf("Expected zero-byte content, got %d", e.Content.Size())
	}
	if e.MimeType != "application/octet-stream" {
		t.Errorf("Expected default MIME type, got %q", e.MimeType)
	}
}

func TestFlatten_SkipsUnreadableEntries(t *testing.T) {
	readErr := errors.New("permission denied")
	roots := []Entry{
		&MemDir{DirName: "docs", BatchSize: 1, Children: []Entry{
			&MemFile{FileName: "ok.txt", Data: []byte("a")},
			&MemFile{FileName: "locked.txt", Err: readErr},
			&MemFile{FileName: "also-ok.txt", Data: []byte("b")},
		}},
		&MemDir{DirName: "flaky", BatchSize: 1, FailAfter: 1, ReadErr: readErr, Children: []Entry{
			&MemFile{FileName: "first.txt"},
			&MemFile{FileName: "never.txt"},
		}},
	}

	res, err := Flatten(context.Background(), roots, Options{})
	if err != nil {
		t.Fatalf("Flatten must not fail on unreadable entries: %v", err)
	}
	want := []string{"docs/ok.txt", "docs/also-ok.txt", "flaky/first.txt"}
	if !reflect.DeepEqual(paths(res), want) {
		t.Errorf("got %v, want %v", paths(res), want)
	}

	var skipped []string
	for _, s := range res.Skipped {
		skipped = append(skipped, s.Path)
		if !errors.Is(s.Err, readErr) {
			t.Errorf("%s: unexpected skip error %v", s.Path, s.Err)
		}
	}
	if !reflect.DeepEqual(skipped, []string{"docs/locked.txt", "flaky"}) {
		t.Errorf("Unexpected skipped list: %v", skipped)
	}
}

func TestFlatten_InjectedFailureWithoutErrorIsReported(t *testing.T) {
	dir := &MemDir{DirName: "flaky", BatchSize: 1, FailAfter: 1, Children: []Entry{
		&MemFile{FileName: "first.txt"},
		&MemFile{FileName: "second.txt"},
	}}

	res, err := Flatten(context.Background(), []Entry{dir}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(paths(res), []string{"flaky/first.txt"}) {
		t.Errorf("Unexpected entries %v", paths(res))
	}
	if len(res.Skipped) != 1 || !errors.Is(res.Skipped[0].Err, ErrInjectedRead) {
		t.Errorf("Expected the failed read to be reported, got %v", res.Skipped)
	}
}

// countingReader records how often the flattener asked for a batch.
type countingReader struct {
	inner BatchReader
	calls *int
}

func (c countingReader) ReadBatch(ctx context.Context) ([]Entry, error) {
	*c.calls++
	return c.inner.ReadBatch(ctx)
}

type countingDir struct {
	*MemDir
	calls *int
}

func (d countingDir) Reader() BatchReader {
	return countingReader{inner: d.MemDir.Reader(), calls: d.calls}
}

func TestFlatten_ReadsUntilEmptyBatch(t *testing.T) {
	calls := 0
	dir := countingDir{
		MemDir: &MemDir{DirName: "d", BatchSize: 2, Children: []Entry{
			&MemFile{FileName: "1"}, &MemFile{FileName: "2"}, &MemFile{FileName: "3"},
			&MemFile{FileName: "4"}, &MemFile{FileName: "5"},
		}},
		calls: &calls,
	}
	res, err := Flatten(context.Background(), []Entry{dir}, Options{})
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if len(res.Entries) != 5 {
		t.Errorf("Expected 5 entries, got %d", len(res.Entries))
	}
	// 3 non-empty batches plus the terminating empty one
	if calls != 4 {
		t.Errorf("Expected 4 ReadBatch calls, got %d", calls)
	}
}

func TestFlatten_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Flatten(ctx, []Entry{buildTree("root", 2, 2, 1)}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFlatten_LocalFilesystem(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(rel, content string) {
		t.Helper()
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("project/readme.md", "# hi")
	mustWrite("project/src/main.go", "package main")
	mustWrite("project/src/empty.txt", "")
	mustWrite("project/.git/config", "hidden")
	mustWrite("loose.json", "{}")
	if err := os.MkdirAll(filepath.Join(dir, "project", "assets"), 0755); err != nil {
		t.Fatal(err)
	}

	entries := FromPaths([]string{
		filepath.Join(dir, "project"),
		filepath.Join(dir, "loose.json"),
		filepath.Join(dir, "missing.bin"),
	}, LocalOptions{BatchSize: 1})

	res, err := Flatten(context.Background(), entries, Options{})
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	got := paths(res)
	sort.Strings(got)
	want := []string{"loose.json", "project/readme.md", "project/src/empty.txt", "project/src/main.go"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Path != "missing.bin" {
		t.Errorf("Expected missing.bin to be skipped, got %v", res.Skipped)
	}
	if res.TotalBytes() != int64(len("# hi")+len("package main")+len("{}")) {
		t.Errorf("Unexpected total bytes %d", res.TotalBytes())
	}
	for _, e := range res.Entries {
		if e.RelativePath == "loose.json" && e.MimeType != "application/json" {
			t.Errorf("Expected application/json for loose.json, got %q", e.MimeType)
		}
	}
}

func TestFlatten_DirectorySymlinksAreNotFollowed(t *testing.T) {
	dir := t.TempDir()
	proj := filepath.Join(dir, "proj")
	if err := os.MkdirAll(proj, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proj, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("..", filepath.Join(proj, "loop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink("a.txt", filepath.Join(proj, "alias.txt")); err != nil {
		t.Fatal(err)
	}

	res, err := Flatten(context.Background(), FromPaths([]string{proj}, LocalOptions{}), Options{})
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	got := paths(res)
	sort.Strings(got)
	if want := []string{"proj/a.txt", "proj/alias.txt"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Path != "proj/loop" {
		t.Fatalf("Expected proj/loop to be skipped, got %v", res.Skipped)
	}
	if !errors.Is(res.Skipped[0].Err, localfs.ErrSymlinkedDir) {
		t.Errorf("Unexpected skip reason: %v", res.Skipped[0].Err)
	}
}

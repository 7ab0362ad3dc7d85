package view

import (
	"reflect"
	"testing"
	"time"

	"github.com/rescale/rescale-drive/internal/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func file(id, name string, size int64, day int) models.Item {
	return models.Item{ID: id, Name: name, Size: models.Int64Ptr(size), CreatedAt: base.AddDate(0, 0, day)}
}

func folder(id, name string, day int) models.Item {
	return models.Item{ID: id, Name: name, IsFolder: true, CreatedAt: base.AddDate(0, 0, day)}
}

func names(items []models.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestDeriveView_SortConcreteCase(t *testing.T) {
	items := []models.Item{
		file("1", "b", 10, 2),
		file("2", "a", 20, 1),
	}
	tests := []struct {
		sortBy models.SortBy
		want   []string
	}{
		{models.SortName, []string{"a", "b"}},
		{models.SortSize, []string{"a", "b"}},
		{models.SortDate, []string{"b", "a"}},
		{models.SortDefault, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sortBy), func(t *testing.T) {
			got := names(DeriveView(items, models.ViewFilter{SortBy: tt.sortBy, ShowFolders: true}))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sortBy=%s: got %v, want %v", tt.sortBy, got, tt.want)
			}
		})
	}
}

func TestDeriveView_ExtensionFilterConcreteCase(t *testing.T) {
	items := []models.Item{
		file("1", "report.pdf", 100, 1),
		file("2", "notes.txt", 50, 2),
		folder("3", "Archive", 3),
	}
	got := names(DeriveView(items, models.ViewFilter{SortBy: models.SortDefault, Extension: "pdf", ShowFolders: true}))
	want := []string{"Archive", "report.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDeriveView_ExtensionFilterNormalized(t *testing.T) {
	items := []models.Item{
		file("1", "Report.PDF", 1, 1),
		file("2", "pdf", 1, 2), // no dot, no extension
		file("3", "a.tar.pdf", 1, 3),
	}
	got := names(DeriveView(items, models.ViewFilter{SortBy: models.SortName, Extension: ".PDF", ShowFolders: true}))
	want := []string{"a.tar.pdf", "Report.PDF"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDeriveView_FoldersFirstAndHidden(t *testing.T) {
	items := []models.Item{
		file("1", "z.txt", 5, 5),
		folder("2", "old", 1),
		folder("3", "new", 9),
		file("4", "y.txt", 7, 2),
	}

	got := names(DeriveView(items, models.ViewFilter{SortBy: models.SortSize, ShowFolders: true}))
	// Folders fall back to newest-first under size sort; files by size desc.
	want := []string{"new", "old", "y.txt", "z.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ShowFolders=true: got %v, want %v", got, want)
	}

	got = names(DeriveView(items, models.ViewFilter{SortBy: models.SortSize, ShowFolders: false}))
	want = []string{"y.txt", "z.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ShowFolders=false: got %v, want %v", got, want)
	}
}

func TestDeriveView_NameSortIsCaseAware(t *testing.T) {
	items := []models.Item{
		file("1", "Banana.txt", 1, 1),
		file("2", "apple.txt", 1, 2),
		file("3", "cherry.txt", 1, 3),
	}
	got := names(DeriveView(items, models.ViewFilter{SortBy: models.SortName}))
	want := []string{"apple.txt", "Banana.txt", "cherry.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDeriveView_IdempotentAndPure(t *testing.T) {
	items := []models.Item{
		file("1", "b.txt", 10, 1),
		folder("2", "dir", 1),
		file("3", "a.txt", 10, 1), // ties on size and date
		{ID: "4", Name: "nosize.bin", CreatedAt: base},
	}
	orig := make([]models.Item, len(items))
	copy(orig, items)

	for _, by := range []models.SortBy{models.SortDefault, models.SortName, models.SortSize, models.SortDate} {
		f := models.ViewFilter{SortBy: by, ShowFolders: true}
		first := DeriveView(items, f)
		second := DeriveView(items, f)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("sortBy=%s: results differ between calls: %v vs %v", by, names(first), names(second))
		}
	}
	if !reflect.DeepEqual(items, orig) {
		t.Error("DeriveView mutated its input")
	}
}

func TestDeriveView_TiesBreakByName(t *testing.T) {
	items := []models.Item{
		file("1", "b.txt", 10, 1),
		file("2", "a.txt", 10, 1),
	}
	got := names(DeriveView(items, models.ViewFilter{SortBy: models.SortSize}))
	if !reflect.DeepEqual(got, []string{"a.txt", "b.txt"}) {
		t.Errorf("Expected tie broken by name, got %v", got)
	}
}

func TestExtensions(t *testing.T) {
	items := []models.Item{
		file("1", "a.PDF", 1, 1),
		file("2", "b.pdf", 1, 1),
		file("3", "c.txt", 1, 1),
		file("4", "Makefile", 1, 1),
		folder("5", "photos.2024", 1),
	}
	got := Extensions(items)
	want := []string{"pdf", "txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"report.pdf":     "pdf",
		"ARCHIVE.TAR.GZ": "gz",
		"README":         "",
		"trailing.":      "",
		".env":           "env",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}

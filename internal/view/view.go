// Package view derives the rendered item list from a raw listing page.
// Everything here is pure: inputs are never mutated and identical inputs
// always yield identical output.
package view

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/rescale/rescale-drive/internal/models"
)

// Extension returns the lowercase suffix after the last '.' of name, or ""
// when name has no dot (or ends with one).
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// NormalizeExtension lowercases a user-supplied filter and drops a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// DeriveView partitions items into folders and files, applies the extension
// filter to files, sorts each group independently and returns folders first.
// Folders are omitted entirely when f.ShowFolders is false.
func DeriveView(items []models.Item, f models.ViewFilter) []models.Item {
	ext := NormalizeExtension(f.Extension)

	var folders, files []models.Item
	for _, it := range items {
		if it.IsFolder {
			if f.ShowFolders {
				folders = append(folders, it)
			}
			continue
		}
		if ext != "" && Extension(it.Name) != ext {
			continue
		}
		files = append(files, it)
	}

	c := collate.New(language.Und)
	sortGroup(folders, f.SortBy, true, c)
	sortGroup(files, f.SortBy, false, c)

	out := make([]models.Item, 0, len(folders)+len(files))
	out = append(out, folders...)
	return append(out, files...)
}

func sortGroup(group []models.Item, by models.SortBy, folders bool, c *collate.Collator) {
	var less func(a, b models.Item) int
	switch {
	case by == models.SortName:
		less = func(a, b models.Item) int { return byName(a, b, c) }
	case by == models.SortSize && !folders:
		less = func(a, b models.Item) int {
			if sa, sb := a.SizeOrZero(), b.SizeOrZero(); sa != sb {
				if sa > sb {
					return -1
				}
				return 1
			}
			return byNewest(a, b, c)
		}
	default:
		// date, default, and size for folders (which have no size)
		less = func(a, b models.Item) int { return byNewest(a, b, c) }
	}
	sort.SliceStable(group, func(i, j int) bool { return less(group[i], group[j]) < 0 })
}

func byName(a, b models.Item, c *collate.Collator) int {
	if r := c.CompareString(a.Name, b.Name); r != 0 {
		return r
	}
	if a.Name != b.Name {
		return strings.Compare(a.Name, b.Name)
	}
	return strings.Compare(a.ID, b.ID)
}

func byNewest(a, b models.Item, c *collate.Collator) int {
	switch {
	case a.CreatedAt.After(b.CreatedAt):
		return -1
	case b.CreatedAt.After(a.CreatedAt):
		return 1
	}
	return byName(a, b, c)
}

// Extensions returns the sorted distinct extension set over every file in
// items, regardless of any filter or folder visibility.
func Extensions(items []models.Item) []string {
	seen := make(map[string]struct{})
	for _, it := range items {
		if it.IsFolder {
			continue
		}
		if ext := Extension(it.Name); ext != "" {
			seen[ext] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ext := range seen {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

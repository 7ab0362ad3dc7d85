// Package validation checks item names crossing the boundary between the
// remote store and the local filesystem.
package validation

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rescale/rescale-drive/internal/apperrors"
)

// MaxNameLength is the longest folder name accepted, in bytes.
const MaxNameLength = 255

// FolderName rejects names a store cannot hold as a single path element:
// empty, "." or "..", path separators, NUL or other control characters, or
// longer than MaxNameLength.
func FolderName(name string) error {
	reason := ""
	switch {
	case strings.TrimSpace(name) == "":
		reason = "must not be empty"
	case name == "." || name == "..":
		reason = "must not be a relative path element"
	case strings.ContainsAny(name, `/\`):
		reason = "must not contain path separators"
	case len(name) > MaxNameLength:
		reason = "is too long"
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		reason = "must not contain control characters"
	}
	if reason != "" {
		return &apperrors.ValidationError{Field: "folder name", Value: name, Reason: reason}
	}
	return nil
}

// LocalName turns a remote item name into a safe local file name. Remote
// names come from the store and may contain separators or traversal
// elements; only the last element is kept and control characters dropped.
// An unusable name yields fallback.
func LocalName(remote, fallback string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		if r == '\\' {
			return '/'
		}
		return r
	}, remote)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fallback
	}
	return name
}

// WithinDir reports whether path, resolved against dir when relative, stays
// inside dir.
func WithinDir(path, dir string) bool {
	base, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	rel, err := filepath.Rel(base, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Package localfs reads the local filesystem for upload payloads: batched
// directory reads, stat, hidden-name filtering and MIME detection.
package localfs

import (
	"path/filepath"
	"strings"
)

// IsHidden reports whether the base name of path is a dot-file.
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName reports whether name is a dot-file. "." and ".." are not hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}

package store

import (
	"path"
	"strings"
)

// The object-store backends (S3, Azure, OSS) have no real folders. They use
// key prefixes ending in '/' as folder IDs and full keys as file IDs.

// PrefixFolderID normalizes a folder ID to a key prefix ("" or "a/b/").
func PrefixFolderID(id string) string {
	id = strings.TrimLeft(id, "/")
	if id == "" {
		return ""
	}
	if !strings.HasSuffix(id, "/") {
		id += "/"
	}
	return id
}

// ChildKey joins a folder prefix and a child name.
func ChildKey(folderID, name string) string {
	return PrefixFolderID(folderID) + strings.Trim(name, "/")
}

// BaseName returns the display name of a key or prefix.
func BaseName(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

// ParentPrefix returns the folder prefix containing key.
func ParentPrefix(key string) string {
	key = strings.TrimSuffix(key, "/")
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i+1]
}

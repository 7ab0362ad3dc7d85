// Package output renders CLI-facing views: item tables and upload trees.
package output

import (
	"path"

	"github.com/disiqueira/gotree/v3"
)

// UploadTree renders '/'-separated relative paths as a directory tree.
type UploadTree struct {
	tree gotree.Tree
	dirs map[string]gotree.Tree
}

// NewUploadTree creates a tree whose root node carries rootLabel.
func NewUploadTree(rootLabel string) UploadTree {
	return UploadTree{tree: gotree.New(rootLabel), dirs: make(map[string]gotree.Tree)}
}

func (t UploadTree) dir(dirPath string) gotree.Tree {
	if dirPath == "." || dirPath == "" {
		return t.tree
	}
	d, ok := t.dirs[dirPath]
	if !ok {
		d = t.dir(path.Dir(dirPath)).Add(path.Base(dirPath) + "/")
		t.dirs[dirPath] = d
	}
	return d
}

// Insert adds a file at relPath, labelled with an optional suffix such as its size.
func (t UploadTree) Insert(relPath, suffix string) {
	label := path.Base(relPath)
	if suffix != "" {
		label += " (" + suffix + ")"
	}
	t.dir(path.Dir(relPath)).Add(label)
}

// Render returns the printable tree.
func (t UploadTree) Render() string {
	return t.tree.Print()
}

package port

import "time"

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string // absolute
	RelPath string // relative to the walked root, slash separated
	ModTime time.Time
	Size    int64
}

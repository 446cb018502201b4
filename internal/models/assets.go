package models

import (
	"io"
	"io/fs"
	"os"
)

// BundledAssets opens model files shipped with the application. A missing
// asset reports an error matching fs.ErrNotExist.
type BundledAssets interface {
	Open(name string) (io.ReadCloser, error)
}

// FSAssets serves bundled assets from an fs.FS, such as an embed.FS.
type FSAssets struct {
	FS fs.FS
}

func (a FSAssets) Open(name string) (io.ReadCloser, error) {
	if a.FS == nil {
		return nil, fs.ErrNotExist
	}
	return a.FS.Open(name)
}

// DirAssets serves bundled assets from a directory.
func DirAssets(dir string) FSAssets { return FSAssets{FS: os.DirFS(dir)} }

package cli

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

// dirFS exposes a directory of a vfs.FileSystem as an fs.FS, so that
// migrations can be loaded from any filesystem the application runs on.
type dirFS struct {
	fs  vfs.FileSystem
	dir string
}

var (
	_ fs.ReadDirFS  = dirFS{}
	_ fs.ReadFileFS = dirFS{}
)

func (d dirFS) path(op, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return filepath.Join(d.dir, filepath.FromSlash(name)), nil
}

// Open implements fs.FS.
func (d dirFS) Open(name string) (fs.File, error) {
	p, err := d.path("open", name)
	if err != nil {
		return nil, err
	}
	f, err := d.fs.Open(p)
	if err != nil {
		return nil, err //nolint:wrapcheck // Already a *fs.PathError.
	}

	return file{f}, nil
}

// ReadFile implements fs.ReadFileFS.
func (d dirFS) ReadFile(name string) ([]byte, error) {
	p, err := d.path("readfile", name)
	if err != nil {
		return nil, err
	}

	return vfs.ReadFile(d.fs, p) //nolint:wrapcheck // Already a *fs.PathError.
}

// ReadDir implements fs.ReadDirFS.
func (d dirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := d.path("readdir", name)
	if err != nil {
		return nil, err
	}
	f, err := d.fs.Open(p)
	if err != nil {
		return nil, err //nolint:wrapcheck // Already a *fs.PathError.
	}
	defer f.Close()

	infos, err := f.Readdir(-1)
	if err != nil {
		return nil, err //nolint:wrapcheck // Already a *fs.PathError.
	}

	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	return entries, nil
}

type file struct {
	vfs.File
}

func (f file) Stat() (fs.FileInfo, error) {
	return f.File.Stat() //nolint:wrapcheck // Already a *fs.PathError.
}

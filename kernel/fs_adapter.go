package kernel

import "github.com/PapiCZ/nachosgo/fs"

// fsAdapter narrows *fs.FileSystem to the ftp.FS surface, keeping
// package ftp free of a direct dependency on package fs.
type fsAdapter struct {
	fsys *fs.FileSystem
}

func (a fsAdapter) Stat(name string) (int64, bool, error) {
	st, err := a.fsys.Stat(name)
	if err != nil {
		return 0, false, err
	}
	return st.Size, st.IsDir, nil
}

func (a fsAdapter) Create(name string, size int64) error {
	return a.fsys.Create(name, size)
}

func (a fsAdapter) Open(name string) (int, error) {
	return a.fsys.OpenUser(name)
}

func (a fsAdapter) Read(fd int, buf []byte) (int, error) {
	return a.fsys.ReadUser(fd, buf)
}

func (a fsAdapter) Write(fd int, buf []byte) (int, error) {
	return a.fsys.WriteUser(fd, buf)
}

func (a fsAdapter) Close(fd int) error {
	return a.fsys.CloseUser(fd)
}

func (a fsAdapter) Remove(name string) error {
	return a.fsys.Remove(name)
}

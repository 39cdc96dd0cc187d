package fs

// OpenUser opens name in the current directory for the user-visible
// open-file table, returning a file descriptor or an error, per
// spec.md §4.2. It rejects directories and names already open (O-Unique).
func (fsys *FileSystem) OpenUser(name string) (int, error) {
	fsys.dirMu.Lock()
	dir, _, err := fsys.loadDirectoryAt(fsys.cwd)
	fsys.dirMu.Unlock()
	if err != nil {
		return -1, err
	}
	sector, err := dir.Find(name)
	if err != nil {
		return -1, err
	}

	var header FileHeader
	if err := header.FetchFrom(fsys.disk, int(sector)); err != nil {
		return -1, err
	}
	if header.Type != TypeData {
		return -1, TypeMismatch{Name: name, Want: "data file"}
	}

	fsys.openMu.Lock()
	defer fsys.openMu.Unlock()

	for _, e := range fsys.openFiles {
		if e != nil && e.sector == sector {
			return -1, InUse{Name: name}
		}
	}

	for fd, e := range fsys.openFiles {
		if e == nil {
			fsys.openFiles[fd] = &userFileEntry{sector: sector, header: header}
			return fd, nil
		}
	}
	return -1, OutOfSlots{Resource: "open file"}
}

func (fsys *FileSystem) entry(fd int) (*userFileEntry, error) {
	if fd < 0 || fd >= MaxOpenedFiles {
		return nil, NotFound{Name: "fd"}
	}
	fsys.openMu.Lock()
	e := fsys.openFiles[fd]
	fsys.openMu.Unlock()
	if e == nil {
		return nil, NotFound{Name: "fd"}
	}
	return e, nil
}

// CloseUser releases fd, per spec.md §4.2: takes opened_file_mutex,
// then the per-file lock, frees both.
func (fsys *FileSystem) CloseUser(fd int) error {
	fsys.openMu.Lock()
	defer fsys.openMu.Unlock()

	if fd < 0 || fd >= MaxOpenedFiles || fsys.openFiles[fd] == nil {
		return NotFound{Name: "fd"}
	}
	e := fsys.openFiles[fd]
	e.mu.Lock()
	defer e.mu.Unlock()
	fsys.openFiles[fd] = nil
	return nil
}

// ReadUser reads up to len(buf) bytes from fd's current seek position.
func (fsys *FileSystem) ReadUser(fd int, buf []byte) (int, error) {
	e, err := fsys.entry(fd)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := fsys.readAt(&e.header, e.seek, buf)
	if err != nil {
		return 0, err
	}
	e.seek += int64(n)
	return n, nil
}

// WriteUser writes buf to fd's current seek position, extending the
// file (and persisting the header + freeMap) if the write runs past the
// current end of file.
//
// Open question resolution (spec.md §9): when seek is past the current
// end of file, the gap between the old length and seek is explicitly
// zero-filled before the new bytes are written, rather than left
// undefined.
func (fsys *FileSystem) WriteUser(fd int, buf []byte) (int, error) {
	e, err := fsys.entry(fd)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	oldNumBytes := int64(e.header.NumBytes)
	sizeToExtend := e.seek + int64(len(buf)) - oldNumBytes
	if sizeToExtend > 0 {
		fsys.freeMapMu.Lock()
		snapshot := fsys.snapshotFreeMap()
		savedHeader := e.header

		ok := e.header.Extend(fsys.disk, fsys.freeMap, sizeToExtend)
		if !ok {
			fsys.restoreFreeMap(snapshot)
			e.header = savedHeader
			fsys.freeMapMu.Unlock()
			return -1, OutOfSpace{}
		}
		if err := fsys.persistFreeMap(); err != nil {
			fsys.restoreFreeMap(snapshot)
			e.header = savedHeader
			fsys.freeMapMu.Unlock()
			return -1, err
		}
		if err := e.header.WriteBack(fsys.disk, int(e.sector)); err != nil {
			fsys.restoreFreeMap(snapshot)
			e.header = savedHeader
			fsys.freeMapMu.Unlock()
			return -1, err
		}
		fsys.freeMapMu.Unlock()

		if gap := e.seek - oldNumBytes; gap > 0 {
			if err := fsys.writeAt(&e.header, oldNumBytes, make([]byte, gap)); err != nil {
				return -1, err
			}
		}
	}

	if err := fsys.writeAt(&e.header, e.seek, buf); err != nil {
		return -1, err
	}
	e.seek += int64(len(buf))
	return len(buf), nil
}

// SeekUser sets fd's seek position to bytes mod the file's length, per
// spec.md §4.2 (a zero-length file always seeks to 0).
func (fsys *FileSystem) SeekUser(fd int, bytes int64) error {
	e, err := fsys.entry(fd)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.header.NumBytes == 0 {
		e.seek = 0
		return nil
	}
	e.seek = bytes % int64(e.header.NumBytes)
	if e.seek < 0 {
		e.seek += int64(e.header.NumBytes)
	}
	return nil
}

// Stat reports a file's size and sector, a debug aid grounded on
// original_source's FileHeader::Print (see SPEC_FULL.md "fs").
type Stat struct {
	Sector int32
	Size   int64
	IsDir  bool
}

func (fsys *FileSystem) Stat(name string) (Stat, error) {
	fsys.dirMu.Lock()
	dir, _, err := fsys.loadDirectoryAt(fsys.cwd)
	fsys.dirMu.Unlock()
	if err != nil {
		return Stat{}, err
	}
	sector, err := dir.Find(name)
	if err != nil {
		return Stat{}, err
	}
	var header FileHeader
	if err := header.FetchFrom(fsys.disk, int(sector)); err != nil {
		return Stat{}, err
	}
	return Stat{Sector: sector, Size: int64(header.NumBytes), IsDir: header.Type != TypeData}, nil
}

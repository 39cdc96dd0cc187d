// Package fs implements the on-disk file system named in spec.md §2/§4.2:
// indexed headers with a mixed direct/indirect block scheme, a
// bit-mapped free-sector allocator, hierarchical directories rooted at
// a well-known sector, and a user-visible open-file table with
// per-file locking.
package fs

import (
	"strings"
	"sync"

	"github.com/PapiCZ/nachosgo/bitmap"
	"github.com/PapiCZ/nachosgo/disk"
)

// userFileEntry is the in-memory open-file-table record of spec.md §3:
// {sector, object, mutex}. At most MaxOpenedFiles live entries exist; a
// file may be open under at most one index at a time.
type userFileEntry struct {
	mu     sync.Mutex
	sector int32
	header FileHeader
	seek   int64
}

// FileSystem is the kernel's single filesystem instance: naming,
// current-working-directory, the user open-file table, and
// create/remove/seek, per spec.md §4.2.
type FileSystem struct {
	disk *disk.SynchDisk

	dirMu     sync.Mutex // directory_mutex
	freeMapMu sync.Mutex // free_map_mutex
	openMu    sync.Mutex // opened_file_mutex

	freeMap *bitmap.BitMap
	cwd     int32 // sector of the current directory's header

	openFiles [MaxOpenedFiles]*userFileEntry
}

// Boot opens (or, when format is true, creates) the filesystem backed by
// d, per spec.md §4.2's two-well-known-sector boot sequence.
func Boot(d *disk.SynchDisk, format bool) (*FileSystem, error) {
	fsys := &FileSystem{disk: d, cwd: RootDirSector}

	if format {
		freeMap := bitmap.New(d.NumSectors())
		_ = freeMap.Mark(FreeMapSector)
		_ = freeMap.Mark(RootDirSector)

		var freeMapHeader FileHeader
		freeMapBytes := int64(bitmap.NeededBytes(d.NumSectors()))
		if !freeMapHeader.Allocate(d, freeMap, freeMapBytes, TypeData) {
			return nil, OutOfSpace{}
		}

		var rootHeader FileHeader
		rootDirBytes := int64(NumDirEntries * directoryEntrySize())
		if !rootHeader.Allocate(d, freeMap, rootDirBytes, TypeRoot) {
			return nil, OutOfSpace{}
		}

		if err := freeMapHeader.WriteBack(d, FreeMapSector); err != nil {
			return nil, err
		}
		if err := rootHeader.WriteBack(d, RootDirSector); err != nil {
			return nil, err
		}

		fsys.freeMap = freeMap

		rootDir := newDirectory(NumDirEntries)
		rootDir.Entries[0] = newDirectoryEntry(".", RootDirSector)
		rootDir.Entries[1] = newDirectoryEntry("..", RootDirSector)
		if err := fsys.writeAll(&rootHeader, rootDir.marshal()); err != nil {
			return nil, err
		}
		if err := fsys.writeAll(&freeMapHeader, freeMap.Bytes()); err != nil {
			return nil, err
		}

		return fsys, nil
	}

	var freeMapHeader FileHeader
	if err := freeMapHeader.FetchFrom(d, FreeMapSector); err != nil {
		return nil, err
	}
	freeMapBytes, err := fsys.readAll(&freeMapHeader)
	if err != nil {
		return nil, err
	}
	fsys.freeMap = bitmap.FromBytes(d.NumSectors(), freeMapBytes)

	return fsys, nil
}

// readAll reads a header's entire logical content.
func (fsys *FileSystem) readAll(h *FileHeader) ([]byte, error) {
	out := make([]byte, h.NumBytes)
	if _, err := fsys.readAt(h, 0, out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeAll overwrites a header's entire logical content; the header must
// already have been allocated/extended to len(data) bytes.
func (fsys *FileSystem) writeAll(h *FileHeader, data []byte) error {
	return fsys.writeAt(h, 0, data)
}

func (fsys *FileSystem) readAt(h *FileHeader, offset int64, buf []byte) (int, error) {
	n := len(buf)
	if offset+int64(n) > int64(h.NumBytes) {
		n = int(int64(h.NumBytes) - offset)
	}
	if n <= 0 {
		return 0, nil
	}

	read := 0
	for read < n {
		pos := offset + int64(read)
		sector, err := h.ByteToSector(fsys.disk, pos)
		if err != nil {
			return read, err
		}
		posInSector := int(pos % disk.SectorSize)
		chunk := disk.SectorSize - posInSector
		if chunk > n-read {
			chunk = n - read
		}

		sectorBuf := make([]byte, disk.SectorSize)
		if err := fsys.disk.ReadSector(sector, sectorBuf); err != nil {
			return read, err
		}
		copy(buf[read:read+chunk], sectorBuf[posInSector:posInSector+chunk])
		read += chunk
	}
	return read, nil
}

func (fsys *FileSystem) writeAt(h *FileHeader, offset int64, data []byte) error {
	written := 0
	for written < len(data) {
		pos := offset + int64(written)
		sector, err := h.ByteToSector(fsys.disk, pos)
		if err != nil {
			return err
		}
		posInSector := int(pos % disk.SectorSize)
		chunk := disk.SectorSize - posInSector
		if chunk > len(data)-written {
			chunk = len(data) - written
		}

		sectorBuf := make([]byte, disk.SectorSize)
		if posInSector != 0 || chunk != disk.SectorSize {
			if err := fsys.disk.ReadSector(sector, sectorBuf); err != nil {
				return err
			}
		}
		copy(sectorBuf[posInSector:posInSector+chunk], data[written:written+chunk])
		if err := fsys.disk.WriteSector(sector, sectorBuf); err != nil {
			return err
		}
		written += chunk
	}
	return nil
}

func (fsys *FileSystem) loadDirectoryAt(sector int32) (*Directory, *FileHeader, error) {
	var header FileHeader
	if err := header.FetchFrom(fsys.disk, int(sector)); err != nil {
		return nil, nil, err
	}
	data, err := fsys.readAll(&header)
	if err != nil {
		return nil, nil, err
	}
	dir, err := unmarshalDirectory(data)
	if err != nil {
		return nil, nil, err
	}
	return dir, &header, nil
}

func (fsys *FileSystem) saveDirectoryAt(dir *Directory, header *FileHeader, sector int32) error {
	return fsys.writeAll(header, dir.marshal())
}

func (fsys *FileSystem) persistFreeMap() error {
	var freeMapHeader FileHeader
	if err := freeMapHeader.FetchFrom(fsys.disk, FreeMapSector); err != nil {
		return err
	}
	return fsys.writeAll(&freeMapHeader, fsys.freeMap.Bytes())
}

// snapshotFreeMap copies the in-memory free map so a failed allocation
// can be rolled back without ever having touched disk, per spec.md
// §4.1/§4.2's discardable-copy recovery model: callers must mutate a
// copy and only flush on success. BitMap.Bytes returns its live backing
// slice, so this must deep-copy rather than alias it.
func (fsys *FileSystem) snapshotFreeMap() []byte {
	return append([]byte(nil), fsys.freeMap.Bytes()...)
}

// restoreFreeMap discards whatever Find/Mark/Clear calls happened since
// snapshot was taken, reverting fsys.freeMap to that earlier state.
func (fsys *FileSystem) restoreFreeMap(snapshot []byte) {
	fsys.freeMap = bitmap.FromBytes(fsys.disk.NumSectors(), snapshot)
}

// Create makes a new data file of size bytes named name in the current
// directory, per spec.md §4.2.
func (fsys *FileSystem) Create(name string, size int64) error {
	if isReservedName(name) {
		return Reserved{Name: name}
	}

	fsys.dirMu.Lock()
	defer fsys.dirMu.Unlock()
	fsys.freeMapMu.Lock()
	defer fsys.freeMapMu.Unlock()

	dir, dirHeader, err := fsys.loadDirectoryAt(fsys.cwd)
	if err != nil {
		return err
	}
	if _, err := dir.Find(name); err == nil {
		return Exists{Name: name}
	}

	snapshot := fsys.snapshotFreeMap()

	sector, ok := fsys.freeMap.Find()
	if !ok {
		return OutOfSpace{}
	}

	var header FileHeader
	if !header.Allocate(fsys.disk, fsys.freeMap, size, TypeData) {
		fsys.restoreFreeMap(snapshot)
		return OutOfSpace{}
	}

	if err := dir.Add(name, int32(sector)); err != nil {
		fsys.restoreFreeMap(snapshot)
		return err
	}

	if err := header.WriteBack(fsys.disk, sector); err != nil {
		fsys.restoreFreeMap(snapshot)
		return err
	}
	if err := fsys.saveDirectoryAt(dir, dirHeader, fsys.cwd); err != nil {
		fsys.restoreFreeMap(snapshot)
		return err
	}
	return fsys.persistFreeMap()
}

// CreateDir makes a new empty subdirectory named name, installing "."
// and ".." per spec.md §4.2.
func (fsys *FileSystem) CreateDir(name string) error {
	if isReservedName(name) {
		return Reserved{Name: name}
	}

	fsys.dirMu.Lock()
	defer fsys.dirMu.Unlock()
	fsys.freeMapMu.Lock()
	defer fsys.freeMapMu.Unlock()

	dir, dirHeader, err := fsys.loadDirectoryAt(fsys.cwd)
	if err != nil {
		return err
	}
	if _, err := dir.Find(name); err == nil {
		return Exists{Name: name}
	}

	snapshot := fsys.snapshotFreeMap()

	sector, ok := fsys.freeMap.Find()
	if !ok {
		return OutOfSpace{}
	}

	var header FileHeader
	newDirBytes := int64(NumDirEntries * directoryEntrySize())
	if !header.Allocate(fsys.disk, fsys.freeMap, newDirBytes, TypeDirectory) {
		fsys.restoreFreeMap(snapshot)
		return OutOfSpace{}
	}

	if err := dir.Add(name, int32(sector)); err != nil {
		fsys.restoreFreeMap(snapshot)
		return err
	}

	newDir := newDirectory(NumDirEntries)
	newDir.Entries[0] = newDirectoryEntry(".", int32(sector))
	newDir.Entries[1] = newDirectoryEntry("..", fsys.cwd)

	if err := header.WriteBack(fsys.disk, sector); err != nil {
		fsys.restoreFreeMap(snapshot)
		return err
	}
	if err := fsys.writeAll(&header, newDir.marshal()); err != nil {
		fsys.restoreFreeMap(snapshot)
		return err
	}
	if err := fsys.saveDirectoryAt(dir, dirHeader, fsys.cwd); err != nil {
		fsys.restoreFreeMap(snapshot)
		return err
	}
	return fsys.persistFreeMap()
}

// isOpen reports whether sector is currently live in the open-file
// table, per invariant O-Unique.
func (fsys *FileSystem) isOpen(sector int32) bool {
	fsys.openMu.Lock()
	defer fsys.openMu.Unlock()
	for _, e := range fsys.openFiles {
		if e != nil && e.sector == sector {
			return true
		}
	}
	return false
}

// Remove deletes the data file named name, refusing if it is open or is
// not a data file, per spec.md §4.2.
func (fsys *FileSystem) Remove(name string) error {
	fsys.dirMu.Lock()
	defer fsys.dirMu.Unlock()
	fsys.freeMapMu.Lock()
	defer fsys.freeMapMu.Unlock()

	dir, dirHeader, err := fsys.loadDirectoryAt(fsys.cwd)
	if err != nil {
		return err
	}
	sector, err := dir.Find(name)
	if err != nil {
		return err
	}

	if fsys.isOpen(sector) {
		return InUse{Name: name}
	}

	var header FileHeader
	if err := header.FetchFrom(fsys.disk, int(sector)); err != nil {
		return err
	}
	if header.Type != TypeData {
		return TypeMismatch{Name: name, Want: "data file"}
	}

	header.Deallocate(fsys.disk, fsys.freeMap)
	_ = fsys.freeMap.Clear(int(sector))

	if err := dir.Remove(name); err != nil {
		return err
	}
	if err := fsys.saveDirectoryAt(dir, dirHeader, fsys.cwd); err != nil {
		return err
	}
	return fsys.persistFreeMap()
}

// RemoveDir deletes the empty subdirectory named name, refusing on root,
// non-directories, and non-empty directories, per spec.md §4.2.
func (fsys *FileSystem) RemoveDir(name string) error {
	if isReservedName(name) {
		return Reserved{Name: name}
	}

	fsys.dirMu.Lock()
	defer fsys.dirMu.Unlock()
	fsys.freeMapMu.Lock()
	defer fsys.freeMapMu.Unlock()

	dir, dirHeader, err := fsys.loadDirectoryAt(fsys.cwd)
	if err != nil {
		return err
	}
	sector, err := dir.Find(name)
	if err != nil {
		return err
	}
	if sector == RootDirSector {
		return TypeMismatch{Name: name, Want: "non-root directory"}
	}

	var header FileHeader
	if err := header.FetchFrom(fsys.disk, int(sector)); err != nil {
		return err
	}
	if header.Type != TypeDirectory {
		return TypeMismatch{Name: name, Want: "directory"}
	}

	childDir, _, err := fsys.loadDirectoryAt(sector)
	if err != nil {
		return err
	}
	if !childDir.IsEmpty() {
		return NotEmpty{Name: name}
	}

	header.Deallocate(fsys.disk, fsys.freeMap)
	_ = fsys.freeMap.Clear(int(sector))

	if err := dir.Remove(name); err != nil {
		return err
	}
	if err := fsys.saveDirectoryAt(dir, dirHeader, fsys.cwd); err != nil {
		return err
	}
	return fsys.persistFreeMap()
}

// List returns the names of the current directory's entries.
func (fsys *FileSystem) List() ([]string, error) {
	fsys.dirMu.Lock()
	defer fsys.dirMu.Unlock()

	dir, _, err := fsys.loadDirectoryAt(fsys.cwd)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dir.Entries))
	for _, e := range dir.List() {
		names = append(names, e.NameString())
	}
	return names, nil
}

// ChangeDir moves the current directory along path (possibly
// multi-component, "/"-separated), restoring the prior directory on
// failure, per spec.md §4.2.
func (fsys *FileSystem) ChangeDir(path string) error {
	fsys.dirMu.Lock()
	defer fsys.dirMu.Unlock()

	start := fsys.cwd
	cur := fsys.cwd
	if strings.HasPrefix(path, "/") {
		cur = RootDirSector
	}

	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		dir, _, err := fsys.loadDirectoryAt(cur)
		if err != nil {
			fsys.cwd = start
			return err
		}
		sector, err := dir.Find(comp)
		if err != nil {
			fsys.cwd = start
			return err
		}
		var header FileHeader
		if err := header.FetchFrom(fsys.disk, int(sector)); err != nil {
			fsys.cwd = start
			return err
		}
		if header.Type != TypeDirectory && header.Type != TypeRoot {
			fsys.cwd = start
			return TypeMismatch{Name: comp, Want: "directory"}
		}
		cur = sector
	}

	fsys.cwd = cur
	return nil
}

// Cwd returns the sector of the current directory's header.
func (fsys *FileSystem) Cwd() int32 {
	return fsys.cwd
}

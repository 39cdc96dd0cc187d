package fs

import (
	"bytes"
	"encoding/binary"
)

// DirectoryEntry is the on-disk layout named in spec.md §6: i32 in_use;
// char name[FILENAME_MAX]; i32 sector.
type DirectoryEntry struct {
	InUse int32
	Name  [FilenameMax]byte
	Sector int32
}

func (e DirectoryEntry) IsUsed() bool {
	return e.InUse != 0
}

func (e DirectoryEntry) NameString() string {
	n := bytes.IndexByte(e.Name[:], 0)
	if n < 0 {
		n = len(e.Name)
	}
	return string(e.Name[:n])
}

func newDirectoryEntry(name string, sector int32) DirectoryEntry {
	var e DirectoryEntry
	e.InUse = 1
	e.Sector = sector
	copy(e.Name[:], name)
	return e
}

// Directory is a fixed-entry-count name->header-sector table, stored as
// a regular file per spec.md §3. Lookup is linear; "." and ".." are
// reserved and installed on every non-root directory.
type Directory struct {
	Entries []DirectoryEntry
}

func newDirectory(numEntries int) *Directory {
	return &Directory{Entries: make([]DirectoryEntry, numEntries)}
}

func directoryEntrySize() int {
	return 4 + FilenameMax + 4
}

func (dir *Directory) marshal() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, dir.Entries)
	return buf.Bytes()
}

func unmarshalDirectory(data []byte) (*Directory, error) {
	count := len(data) / directoryEntrySize()
	entries := make([]DirectoryEntry, count)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, entries); err != nil {
		return nil, err
	}
	return &Directory{Entries: entries}, nil
}

func isReservedName(name string) bool {
	return name == "." || name == ".."
}

// Find returns the sector of the header named name, or NotFound.
func (dir *Directory) Find(name string) (int32, error) {
	for _, e := range dir.Entries {
		if e.IsUsed() && e.NameString() == name {
			return e.Sector, nil
		}
	}
	return 0, NotFound{Name: name}
}

// Add installs a new name->sector mapping in the first free slot.
func (dir *Directory) Add(name string, sector int32) error {
	if _, err := dir.Find(name); err == nil {
		return Exists{Name: name}
	}
	for i := range dir.Entries {
		if !dir.Entries[i].IsUsed() {
			dir.Entries[i] = newDirectoryEntry(name, sector)
			return nil
		}
	}
	return OutOfSlots{Resource: "directory entry"}
}

// Remove clears the entry named name.
func (dir *Directory) Remove(name string) error {
	for i := range dir.Entries {
		if dir.Entries[i].IsUsed() && dir.Entries[i].NameString() == name {
			dir.Entries[i] = DirectoryEntry{}
			return nil
		}
	}
	return NotFound{Name: name}
}

// List returns the in-use entry names, in table order.
func (dir *Directory) List() []DirectoryEntry {
	out := make([]DirectoryEntry, 0, len(dir.Entries))
	for _, e := range dir.Entries {
		if e.IsUsed() {
			out = append(out, e)
		}
	}
	return out
}

// IsEmpty reports whether the directory holds only "." and "..".
func (dir *Directory) IsEmpty() bool {
	for _, e := range dir.Entries {
		if e.IsUsed() && !isReservedName(e.NameString()) {
			return false
		}
	}
	return true
}

package fs

import "github.com/PapiCZ/nachosgo/disk"

// Well-known sectors, per spec.md §4.2: sector 0 holds the free-sector
// bitmap file's header, sector 1 holds the root directory file's header.
const (
	FreeMapSector  = 0
	RootDirSector  = 1
	FilenameMax    = 24
	MaxOpenedFiles = 10

	// NumDirEntries bounds every directory (root and non-root alike) to a
	// fixed entry count, fixing its file size at creation time.
	NumDirEntries = 64

	// D is the number of int32 slots in a FileHeader's DataSectors array:
	// (SectorSize - sizeof(type,num_bytes,num_sectors)) / sizeof(int32).
	D = (disk.SectorSize - 3*4) / 4

	// PointersPerSector is how many int32 sector pointers fit in one
	// indirect-block data sector.
	PointersPerSector = disk.SectorSize / 4

	// MaxLen is the maximum file length in bytes: (D-1) direct sectors
	// plus D indirect-block-managed sectors, each fanning out to
	// PointersPerSector further data sectors.
	MaxLen = int64(D-1)*disk.SectorSize + int64(D)*int64(PointersPerSector)*disk.SectorSize
)

// FileType distinguishes a FileHeader's role, per spec.md §3.
type FileType int32

const (
	TypeData FileType = iota
	TypeDirectory
	TypeRoot
)

func divRoundUp(n, d int64) int64 {
	return (n + d - 1) / d
}

package fs

import (
	"bytes"
	"encoding/binary"

	"github.com/PapiCZ/nachosgo/bitmap"
	"github.com/PapiCZ/nachosgo/disk"
)

// FileHeader is the on-disk index record for one file, occupying
// exactly one sector. It mixes direct pointers with a single level of
// indirection via entry D-1, per spec.md §4.1.
type FileHeader struct {
	Type        FileType
	NumBytes    int32
	NumSectors  int32
	DataSectors [D]int32
}

// indirectUnset marks DataSectors[D-1] as "no indirect block allocated
// yet". Sector 0 is reserved for the free-map header so it is never a
// valid indirect-block sector, making 0 safe as the sentinel.
const indirectUnset = 0

func (h *FileHeader) hasIndirect() bool {
	return h.DataSectors[D-1] != indirectUnset
}

// Allocate initializes a fresh header of the given type and grows it to
// hold size bytes, allocating sectors from freeMap.
func (h *FileHeader) Allocate(d *disk.SynchDisk, freeMap *bitmap.BitMap, size int64, typ FileType) bool {
	*h = FileHeader{Type: typ}
	return h.Extend(d, freeMap, size)
}

// Extend grows the file by addSize bytes, allocating new sectors from
// freeMap (and, when the file crosses the direct/indirect boundary,
// from the indirect pointer-file described in spec.md §4.1) as needed.
// On failure it returns false; per spec.md §4.1 the freeMap may be left
// partially dirtied and the caller must discard it rather than flush.
func (h *FileHeader) Extend(d *disk.SynchDisk, freeMap *bitmap.BitMap, addSize int64) bool {
	newNumBytes := int64(h.NumBytes) + addSize
	if newNumBytes > MaxLen {
		return false
	}

	newTotalSectors := divRoundUp(newNumBytes, disk.SectorSize)

	directTarget := newTotalSectors
	if directTarget > D-1 {
		directTarget = D - 1
	}
	for s := int64(h.NumSectors); s < directTarget; s++ {
		sector, ok := freeMap.Find()
		if !ok {
			return false
		}
		h.DataSectors[s] = int32(sector)
	}

	if newTotalSectors > D-1 {
		indirectDataSectorsNeeded := newTotalSectors - (D - 1)
		currentIndirectDataSectors := int64(0)
		if int64(h.NumSectors) > D-1 {
			currentIndirectDataSectors = int64(h.NumSectors) - (D - 1)
		}
		k := indirectDataSectorsNeeded - currentIndirectDataSectors

		var indirectHeader FileHeader
		if !h.hasIndirect() {
			sector, ok := freeMap.Find()
			if !ok {
				return false
			}
			h.DataSectors[D-1] = int32(sector)
			indirectHeader = FileHeader{Type: TypeData}
		} else {
			if err := indirectHeader.FetchFrom(d, int(h.DataSectors[D-1])); err != nil {
				return false
			}
		}

		if !indirectHeader.extendFlat(freeMap, k*4) {
			return false
		}

		for j := int64(0); j < k; j++ {
			dataSector, ok := freeMap.Find()
			if !ok {
				return false
			}

			pointerIndex := currentIndirectDataSectors + j
			pointerSectorIdx := pointerIndex / int64(PointersPerSector)
			pointerOffset := int((pointerIndex % int64(PointersPerSector)) * 4)
			pointerSector := int(indirectHeader.DataSectors[pointerSectorIdx])

			if err := writeInt32AtSector(d, pointerSector, pointerOffset, int32(dataSector)); err != nil {
				return false
			}
		}

		if err := indirectHeader.WriteBack(d, int(h.DataSectors[D-1])); err != nil {
			return false
		}
	}

	h.NumBytes = int32(newNumBytes)
	h.NumSectors = int32(newTotalSectors)
	return true
}

// extendFlat grows a header used purely as a flat pointer store (the
// indirect-block file from spec.md §4.1's design note): it allocates
// additional sectors directly into DataSectors without ever forming its
// own indirect block, which is why MaxLen's indirect term uses all D
// slots instead of D-1 — this is the single extra level spec.md allows.
func (h *FileHeader) extendFlat(freeMap *bitmap.BitMap, addBytes int64) bool {
	newNumBytes := int64(h.NumBytes) + addBytes
	newTotalSectors := divRoundUp(newNumBytes, disk.SectorSize)
	if newTotalSectors > D {
		return false
	}
	for s := int64(h.NumSectors); s < newTotalSectors; s++ {
		sector, ok := freeMap.Find()
		if !ok {
			return false
		}
		h.DataSectors[s] = int32(sector)
	}
	h.NumBytes = int32(newNumBytes)
	h.NumSectors = int32(newTotalSectors)
	return true
}

// Deallocate frees every sector owned by this header (direct, the
// indirect header sector itself, and every indirect-managed pointer and
// data sector) back into freeMap.
func (h *FileHeader) Deallocate(d *disk.SynchDisk, freeMap *bitmap.BitMap) {
	directCount := int64(h.NumSectors)
	if directCount > D-1 {
		directCount = D - 1
	}
	for s := int64(0); s < directCount; s++ {
		_ = freeMap.Clear(int(h.DataSectors[s]))
	}

	if h.hasIndirect() {
		var indirectHeader FileHeader
		if err := indirectHeader.FetchFrom(d, int(h.DataSectors[D-1])); err == nil {
			indirectDataSectors := int64(h.NumSectors) - (D - 1)
			for j := int64(0); j < indirectDataSectors; j++ {
				pointerSectorIdx := j / int64(PointersPerSector)
				pointerOffset := int((j % int64(PointersPerSector)) * 4)
				pointerSector := int(indirectHeader.DataSectors[pointerSectorIdx])
				dataSector, err := readInt32AtSector(d, pointerSector, pointerOffset)
				if err == nil {
					_ = freeMap.Clear(dataSector)
				}
			}
			for s := int64(0); s < int64(indirectHeader.NumSectors); s++ {
				_ = freeMap.Clear(int(indirectHeader.DataSectors[s]))
			}
		}
		_ = freeMap.Clear(int(h.DataSectors[D-1]))
	}
}

// marshal/unmarshal implement the on-disk packed little-endian layout
// named in spec.md §6: i32 type; i32 num_bytes; i32 num_sectors;
// i32 data_sectors[D].
func (h *FileHeader) marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	out := make([]byte, disk.SectorSize)
	copy(out, buf.Bytes())
	return out, nil
}

func (h *FileHeader) unmarshal(data []byte) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, h)
}

// FetchFrom reads this header from the given sector.
func (h *FileHeader) FetchFrom(d *disk.SynchDisk, sector int) error {
	buf := make([]byte, disk.SectorSize)
	if err := d.ReadSector(sector, buf); err != nil {
		return err
	}
	return h.unmarshal(buf)
}

// WriteBack persists this header to the given sector.
func (h *FileHeader) WriteBack(d *disk.SynchDisk, sector int) error {
	buf, err := h.marshal()
	if err != nil {
		return err
	}
	return d.WriteSector(sector, buf)
}

// ByteToSector resolves a logical byte offset within the file to the
// physical disk sector holding it, following the indirect chain when
// offset falls past the direct prefix.
func (h *FileHeader) ByteToSector(d *disk.SynchDisk, offset int64) (int, error) {
	sectorIndex := offset / disk.SectorSize
	if sectorIndex < D-1 {
		return int(h.DataSectors[sectorIndex]), nil
	}

	indirectIndex := sectorIndex - (D - 1)
	var indirectHeader FileHeader
	if err := indirectHeader.FetchFrom(d, int(h.DataSectors[D-1])); err != nil {
		return 0, err
	}

	pointerSectorIdx := indirectIndex / int64(PointersPerSector)
	pointerOffset := int((indirectIndex % int64(PointersPerSector)) * 4)
	pointerSector := int(indirectHeader.DataSectors[pointerSectorIdx])

	return readInt32AtSector(d, pointerSector, pointerOffset)
}

func readInt32AtSector(d *disk.SynchDisk, sector int, byteOffset int) (int, error) {
	buf := make([]byte, disk.SectorSize)
	if err := d.ReadSector(sector, buf); err != nil {
		return 0, err
	}
	return int(int32(binary.LittleEndian.Uint32(buf[byteOffset : byteOffset+4]))), nil
}

func writeInt32AtSector(d *disk.SynchDisk, sector int, byteOffset int, value int32) error {
	buf := make([]byte, disk.SectorSize)
	if err := d.ReadSector(sector, buf); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[byteOffset:byteOffset+4], uint32(value))
	return d.WriteSector(sector, buf)
}

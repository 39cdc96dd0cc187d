// Package disk provides a blocking, mutex-serialized wrapper over a raw
// sector device, the way vfs.Volume serializes access to a backing
// *os.File with a single seek+read/write sequence per call.
package disk

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
)

const (
	SectorSize = 128
)

type OutOfRange struct {
	Sector    int
	NumSector int
}

func (o OutOfRange) Error() string {
	return fmt.Sprintf("sector %d out of range, disk has %d sectors", o.Sector, o.NumSector)
}

// SynchDisk is the blocking wrapper over a raw disk device named in
// spec.md §2. All sector transfers are atomic S-byte transfers guarded
// by a single mutex, matching the "SynchDisk" contract: the device
// itself never reorders or partially completes a sector.
type SynchDisk struct {
	mu         sync.Mutex
	file       *os.File
	numSectors int

	// corruptionRate, when > 0, randomly flips bits in the sector payload
	// after a write to emulate an unreliable device for test harnesses.
	// This never runs by default: Non-goal "crash recovery" is preserved,
	// nothing in the kernel attempts to detect or repair the corruption.
	corruptionRate float64
	rng            *rand.Rand
}

type Option func(*SynchDisk)

// WithCorruptionRate injects random bit flips on writes with the given
// per-sector probability. Intended for test harnesses exercising the
// filesystem's tolerance of an unreliable store; disabled (0) by default.
func WithCorruptionRate(rate float64, seed int64) Option {
	return func(d *SynchDisk) {
		d.corruptionRate = rate
		d.rng = rand.New(rand.NewSource(seed))
	}
}

// New opens (creating it if absent) a host file and sizes it to
// numSectors*SectorSize bytes, keeping existing contents within that
// size, to back the simulated disk, mirroring vfs.PrepareVolumeFile followed
// by vfs.NewVolume.
func New(path string, numSectors int, opts ...Option) (*SynchDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	size := int64(numSectors) * SectorSize
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, err
	}

	d := &SynchDisk{file: f, numSectors: numSectors}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *SynchDisk) NumSectors() int {
	return d.numSectors
}

func (d *SynchDisk) checkRange(sector int) error {
	if sector < 0 || sector >= d.numSectors {
		return OutOfRange{Sector: sector, NumSector: d.numSectors}
	}
	return nil
}

// ReadSector reads exactly SectorSize bytes from sector i into buf.
func (d *SynchDisk) ReadSector(i int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("buffer must be exactly %d bytes, got %d", SectorSize, len(buf))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkRange(i); err != nil {
		return err
	}

	if _, err := d.file.Seek(int64(i)*SectorSize, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(d.file, buf)
	return err
}

// WriteSector writes exactly SectorSize bytes from buf to sector i.
func (d *SynchDisk) WriteSector(i int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("buffer must be exactly %d bytes, got %d", SectorSize, len(buf))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkRange(i); err != nil {
		return err
	}

	payload := buf
	if d.corruptionRate > 0 && d.rng.Float64() < d.corruptionRate {
		payload = append([]byte(nil), buf...)
		flip := d.rng.Intn(len(payload))
		payload[flip] ^= 1 << uint(d.rng.Intn(8))
	}

	if _, err := d.file.Seek(int64(i)*SectorSize, io.SeekStart); err != nil {
		return err
	}
	_, err := d.file.Write(payload)
	return err
}

func (d *SynchDisk) Close() error {
	return d.file.Close()
}

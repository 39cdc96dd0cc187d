package disk

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestDisk(t *testing.T, numSectors int) *SynchDisk {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "test.disk"), numSectors)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestWriteReadSectorRoundTrip(t *testing.T) {
	d := newTestDisk(t, 4)
	defer d.Close()

	want := bytes.Repeat([]byte{0xAB}, SectorSize)
	if err := d.WriteSector(2, want); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, SectorSize)
	if err := d.ReadSector(2, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("sector contents did not round trip")
	}
}

func TestOutOfRangeSector(t *testing.T) {
	d := newTestDisk(t, 4)
	defer d.Close()

	buf := make([]byte, SectorSize)
	if err := d.ReadSector(4, buf); err == nil {
		t.Fatal("expected OutOfRange for sector == numSectors")
	}
	if err := d.WriteSector(-1, buf); err == nil {
		t.Fatal("expected OutOfRange for negative sector")
	}
}

func TestWrongSizedBufferRejected(t *testing.T) {
	d := newTestDisk(t, 4)
	defer d.Close()

	if err := d.ReadSector(0, make([]byte, SectorSize-1)); err == nil {
		t.Fatal("expected error for undersized read buffer")
	}
	if err := d.WriteSector(0, make([]byte, SectorSize+1)); err == nil {
		t.Fatal("expected error for oversized write buffer")
	}
}

func TestNumSectors(t *testing.T) {
	d := newTestDisk(t, 7)
	defer d.Close()
	if d.NumSectors() != 7 {
		t.Fatalf("expected 7, got %d", d.NumSectors())
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.disk")

	d1, err := New(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Repeat([]byte{0x7F}, SectorSize)
	if err := d1.WriteSector(1, want); err != nil {
		t.Fatal(err)
	}
	if err := d1.Close(); err != nil {
		t.Fatal(err)
	}

	d2, err := New(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer d2.Close()
	got := make([]byte, SectorSize)
	if err := d2.ReadSector(1, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("sector contents did not survive reopen")
	}
}

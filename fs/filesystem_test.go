package fs

import (
	"path/filepath"
	"testing"

	"github.com/PapiCZ/nachosgo/disk"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	d, err := disk.New(filepath.Join(t.TempDir(), "nachos.disk"), 512)
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := Boot(d, true)
	if err != nil {
		t.Fatal(err)
	}
	return fsys
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.Create("greeting", 0); err != nil {
		t.Fatal(err)
	}

	fd, err := fsys.OpenUser("greeting")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("Hello, World!")
	if _, err := fsys.WriteUser(fd, want); err != nil {
		t.Fatal(err)
	}
	if err := fsys.SeekUser(fd, 0); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(want))
	if _, err := fsys.ReadUser(fd, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if err := fsys.CloseUser(fd); err != nil {
		t.Fatal(err)
	}
}

func TestCreateRemoveCreateLeavesEmptyFile(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.Create("x", 0); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove("x"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Create("x", 0); err != nil {
		t.Fatal(err)
	}
	st, err := fsys.Stat("x")
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 0 {
		t.Fatalf("expected size 0 after recreate, got %d", st.Size)
	}
}

func TestMkdirCdCdDotDotReturnsToOrigin(t *testing.T) {
	fsys := newTestFS(t)
	origin := fsys.Cwd()

	if err := fsys.CreateDir("sub"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.ChangeDir("sub"); err != nil {
		t.Fatal(err)
	}
	if fsys.Cwd() == origin {
		t.Fatal("expected cwd to change after cd sub")
	}
	if err := fsys.ChangeDir(".."); err != nil {
		t.Fatal(err)
	}
	if fsys.Cwd() != origin {
		t.Fatal("expected cd .. to return to the original directory")
	}
}

func TestRemoveRefusesOpenFile(t *testing.T) {
	fsys := newTestFS(t)
	if err := fsys.Create("held", 0); err != nil {
		t.Fatal(err)
	}
	fd, err := fsys.OpenUser("held")
	if err != nil {
		t.Fatal(err)
	}
	defer fsys.CloseUser(fd)

	err = fsys.Remove("held")
	if err == nil {
		t.Fatal("expected Remove to refuse an open file")
	}
	if _, ok := err.(InUse); !ok {
		t.Fatalf("expected InUse error, got %T: %v", err, err)
	}
}

func TestCheckPassesOnFreshAndPopulatedFilesystem(t *testing.T) {
	fsys := newTestFS(t)
	if err := fsys.Check(); err != nil {
		t.Fatalf("expected a freshly formatted filesystem to pass Check, got %v", err)
	}

	if err := fsys.Create("a", 3*disk.SectorSize); err != nil {
		t.Fatal(err)
	}
	if err := fsys.CreateDir("sub"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.ChangeDir("sub"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Create("b", int64(D)*disk.SectorSize); err != nil {
		t.Fatal(err)
	}
	if err := fsys.ChangeDir(".."); err != nil {
		t.Fatal(err)
	}

	if err := fsys.Check(); err != nil {
		t.Fatalf("expected Check to pass after populating files and a subdirectory, got %v", err)
	}

	if err := fsys.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Check(); err != nil {
		t.Fatalf("expected Check to pass after Remove frees its sectors, got %v", err)
	}
}

func TestCheckDetectsSectorMarkedUsedWithoutAnOwner(t *testing.T) {
	fsys := newTestFS(t)
	if err := fsys.Create("a", 0); err != nil {
		t.Fatal(err)
	}

	if _, ok := fsys.freeMap.Find(); !ok {
		t.Fatal("expected a free sector to mark as a phantom allocation")
	}

	err := fsys.Check()
	if err == nil {
		t.Fatal("expected Check to detect the orphaned free-map bit")
	}
	if _, ok := err.(Corrupt); !ok {
		t.Fatalf("expected Corrupt error, got %T: %v", err, err)
	}
}

// newTestFSWithSectors is newTestFS with a caller-chosen sector count,
// so tests can drive the disk to OutOfSpace deterministically.
func newTestFSWithSectors(t *testing.T, numSectors int) *FileSystem {
	t.Helper()
	d, err := disk.New(filepath.Join(t.TempDir(), "nachos.disk"), numSectors)
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := Boot(d, true)
	if err != nil {
		t.Fatal(err)
	}
	return fsys
}

// TestCreateRollsBackFreeMapOnOutOfSpace covers a maintainer-flagged
// defect: a failed Allocate/Extend must not leave sectors it grabbed
// via freeMap.Find marked used with no owning file, since that leaks
// them for the rest of the process's life and eventually violates
// F-Bitmap (every set bit has exactly one owner).
func TestCreateRollsBackFreeMapOnOutOfSpace(t *testing.T) {
	fsys := newTestFSWithSectors(t, 24)

	before := fsys.freeMap.NumClear()

	// Ask for a file far larger than the handful of sectors left free
	// on a 24-sector disk; Create must fail with OutOfSpace.
	err := fsys.Create("toobig", int64(D)*disk.SectorSize)
	if err == nil {
		t.Fatal("expected Create to fail with OutOfSpace on a tiny disk")
	}
	if _, ok := err.(OutOfSpace); !ok {
		t.Fatalf("expected OutOfSpace, got %T: %v", err, err)
	}

	if got := fsys.freeMap.NumClear(); got != before {
		t.Fatalf("expected free map to be restored after a failed Create (had %d free sectors, now %d)", before, got)
	}
	if err := fsys.Check(); err != nil {
		t.Fatalf("expected Check to pass after a rolled-back Create, got %v", err)
	}

	// The disk must still be usable: a small file should succeed using
	// exactly the sectors the failed attempt should have released.
	if err := fsys.Create("small", 10); err != nil {
		t.Fatalf("expected a small Create to succeed after the rollback, got %v", err)
	}
}

// TestWriteUserRollsBackFreeMapOnOutOfSpace mirrors the Create case for
// WriteUser's Extend-on-demand path.
func TestWriteUserRollsBackFreeMapOnOutOfSpace(t *testing.T) {
	fsys := newTestFSWithSectors(t, 24)

	if err := fsys.Create("grows", 0); err != nil {
		t.Fatal(err)
	}
	fd, err := fsys.OpenUser("grows")
	if err != nil {
		t.Fatal(err)
	}
	defer fsys.CloseUser(fd)

	before := fsys.freeMap.NumClear()

	_, err = fsys.WriteUser(fd, make([]byte, int(D)*disk.SectorSize))
	if err == nil {
		t.Fatal("expected WriteUser to fail with OutOfSpace on a tiny disk")
	}
	if _, ok := err.(OutOfSpace); !ok {
		t.Fatalf("expected OutOfSpace, got %T: %v", err, err)
	}

	if got := fsys.freeMap.NumClear(); got != before {
		t.Fatalf("expected free map to be restored after a failed WriteUser (had %d free sectors, now %d)", before, got)
	}

	if _, err := fsys.WriteUser(fd, []byte("ok")); err != nil {
		t.Fatalf("expected a small write to still succeed after the rollback, got %v", err)
	}
}

func TestRemoveDirRefusesNonEmpty(t *testing.T) {
	fsys := newTestFS(t)
	if err := fsys.CreateDir("parent"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.ChangeDir("parent"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Create("child", 0); err != nil {
		t.Fatal(err)
	}
	if err := fsys.ChangeDir(".."); err != nil {
		t.Fatal(err)
	}
	if err := fsys.RemoveDir("parent"); err == nil {
		t.Fatal("expected RemoveDir to refuse a non-empty directory")
	}
}

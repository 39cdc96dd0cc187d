package kernel

import (
	"log"
	"path/filepath"
	"testing"

	"github.com/PapiCZ/nachosgo/disk"
	"github.com/PapiCZ/nachosgo/fs"
	"github.com/PapiCZ/nachosgo/network"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	cfg := Config{
		Addr:         1,
		DiskPath:     filepath.Join(t.TempDir(), "nachos.disk"),
		NumSectors:   512,
		Format:       true,
		NumPhysPages: 64,
		Reliability:  1.0,
		Seed:         1,
	}
	medium := network.NewMedium()
	logger := log.New(nopWriter{}, "", 0)
	k, err := New(cfg, medium, FlatLoader{}, FlatMachineFactory{NumPhysPages: cfg.NumPhysPages}, logger, func() int64 { return 1 })
	if err != nil {
		t.Fatal(err)
	}
	return k
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestFlatLoaderLoadsWholeFileAsCode(t *testing.T) {
	d, err := disk.New(filepath.Join(t.TempDir(), "t.disk"), 512)
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := fs.Boot(d, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := fsys.Create("prog", 0); err != nil {
		t.Fatal(err)
	}
	fd, err := fsys.OpenUser("prog")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4, 5}
	if _, err := fsys.WriteUser(fd, want); err != nil {
		t.Fatal(err)
	}
	fsys.CloseUser(fd)

	exe, err := FlatLoader{}.Load(fsys, "prog")
	if err != nil {
		t.Fatal(err)
	}
	if string(exe.Code) != string(want) {
		t.Fatalf("expected code %v, got %v", want, exe.Code)
	}
	if exe.CodeVirtAddr != 0 {
		t.Fatalf("expected code loaded at vaddr 0, got %d", exe.CodeVirtAddr)
	}
}

func TestFlatMachineFactoryIsolatesPerProcessMemory(t *testing.T) {
	factory := FlatMachineFactory{NumPhysPages: 4}
	m1 := factory.New(0)
	m2 := factory.New(1)

	m1.WriteMem(0, 4, 0xDEADBEEF)
	v, ok := m2.ReadMem(0, 4)
	if !ok {
		t.Fatal("expected m2 to have memory at address 0")
	}
	if v == 0xDEADBEEF {
		t.Fatal("expected each FlatMachineFactory.New call to produce independent memory")
	}
}

func TestForkexecCreatesAProcessAndExitTearsItDown(t *testing.T) {
	k := newTestKernel(t)

	if err := k.FS.Create("hello", 0); err != nil {
		t.Fatal(err)
	}
	fd, err := k.FS.OpenUser("hello")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.FS.WriteUser(fd, []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	k.FS.CloseUser(fd)

	pid := k.Forkexec(0, "hello")
	if pid < 0 {
		t.Fatal("expected Forkexec to succeed")
	}
	if k.AddrSpaces.NumProcesses() != 1 {
		t.Fatalf("expected 1 process, got %d", k.AddrSpaces.NumProcesses())
	}

	k.Exit(int(pid), 0)
	if k.AddrSpaces.NumProcesses() != 0 {
		t.Fatalf("expected 0 processes after Exit, got %d", k.AddrSpaces.NumProcesses())
	}
}

func TestForkexecFailsForMissingExecutable(t *testing.T) {
	k := newTestKernel(t)
	if pid := k.Forkexec(0, "does-not-exist"); pid >= 0 {
		t.Fatal("expected Forkexec to fail for a nonexistent file")
	}
	if k.AddrSpaces.NumProcesses() != 0 {
		t.Fatal("expected a failed Forkexec to leave no process registered")
	}
}

package addrspace

import (
	"testing"

	"github.com/PapiCZ/nachosgo/frame"
)

type fakeMachine struct {
	mem   []byte
	table []PageTableEntry
}

func newFakeMachine(size int) *fakeMachine {
	return &fakeMachine{mem: make([]byte, size)}
}

func (m *fakeMachine) WriteMem(addr uint32, size int, value uint32) bool {
	if int(addr)+size > len(m.mem) {
		return false
	}
	for i := 0; i < size; i++ {
		m.mem[int(addr)+i] = byte(value >> (8 * i))
	}
	return true
}

func (m *fakeMachine) ReadMem(addr uint32, size int) (uint32, bool) {
	if int(addr)+size > len(m.mem) {
		return 0, false
	}
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(m.mem[int(addr)+i]) << (8 * i)
	}
	return v, true
}

func (m *fakeMachine) InstallPageTable(table []PageTableEntry) {
	m.table = table
}

func TestNewFromExecutableLoadsCodeAndSetsBrk(t *testing.T) {
	fp := frame.New(64)
	m := newFakeMachine(64 * PageSize)
	exe := &Executable{Code: []byte{1, 2, 3, 4}}

	as, err := NewFromExecutable(0, fp, exe, m)
	if err != nil {
		t.Fatal(err)
	}

	for i, b := range exe.Code {
		got, ok := m.ReadMem(uint32(i), 1)
		if !ok || byte(got) != b {
			t.Fatalf("code byte %d: got %d, want %d", i, got, b)
		}
	}

	wantPages := (len(exe.Code) + UserStackSize + PageSize - 1) / PageSize
	if as.NumPages() != wantPages {
		t.Fatalf("expected %d pages, got %d", wantPages, as.NumPages())
	}
}

func TestSbrkGrowsHeapAndReturnsOldBreak(t *testing.T) {
	fp := frame.New(64)
	exe := &Executable{Code: []byte{0xFF}}
	as, err := NewFromExecutable(0, fp, exe, newFakeMachine(64*PageSize))
	if err != nil {
		t.Fatal(err)
	}

	before := as.NumPages()
	oldBrk, err := as.Sbrk(2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if as.NumPages() != before+2 {
		t.Fatalf("expected %d pages after Sbrk, got %d", before+2, as.NumPages())
	}
	if oldBrk == 0 && before != 0 {
		t.Fatal("expected Sbrk to return the break before growth")
	}
}

func TestSbrkFailsWhenFramePoolExhausted(t *testing.T) {
	fp := frame.New(32)
	exe := &Executable{Code: make([]byte, 1)}
	as, err := NewFromExecutable(0, fp, exe, newFakeMachine(32*PageSize))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := as.Sbrk(100, nil); err == nil {
		t.Fatal("expected Sbrk to fail when frames are exhausted")
	}
}

func TestReleaseReturnsFramesToPool(t *testing.T) {
	fp := frame.New(64)
	exe := &Executable{Code: make([]byte, 1)}
	as, err := NewFromExecutable(0, fp, exe, newFakeMachine(64*PageSize))
	if err != nil {
		t.Fatal(err)
	}
	used := 64 - fp.Available()
	if used == 0 {
		t.Fatal("expected NewFromExecutable to consume frames")
	}
	as.Release()
	if fp.Available() != 64 {
		t.Fatalf("expected all frames returned, got %d available", fp.Available())
	}
}

func TestThreadSlotLifecycle(t *testing.T) {
	fp := frame.New(64)
	exe := &Executable{Code: make([]byte, 1)}
	as, err := NewFromExecutable(0, fp, exe, newFakeMachine(64*PageSize))
	if err != nil {
		t.Fatal(err)
	}

	slot, err := as.AllocThreadSlot()
	if err != nil {
		t.Fatal(err)
	}
	if as.NThreads() != 1 {
		t.Fatalf("expected 1 thread, got %d", as.NThreads())
	}
	if done := as.FreeThreadSlot(slot); !done {
		t.Fatal("expected FreeThreadSlot to report zero threads remaining")
	}
	if as.NThreads() != 0 {
		t.Fatalf("expected 0 threads, got %d", as.NThreads())
	}
}

func TestNextUserThreadIDMonotonic(t *testing.T) {
	fp := frame.New(64)
	exe := &Executable{Code: make([]byte, 1)}
	as, err := NewFromExecutable(0, fp, exe, newFakeMachine(64*PageSize))
	if err != nil {
		t.Fatal(err)
	}

	a := as.NextUserThreadID()
	b := as.NextUserThreadID()
	if b <= a {
		t.Fatalf("expected strictly increasing ids, got %d then %d", a, b)
	}

	as.AdvanceUserThreadIDPast(100)
	if next := as.NextUserThreadID(); next <= 100 {
		t.Fatalf("expected id > 100 after AdvanceUserThreadIDPast, got %d", next)
	}
}

func TestSemAllocSnapshotRestore(t *testing.T) {
	fp := frame.New(64)
	exe := &Executable{Code: make([]byte, 1)}
	as, err := NewFromExecutable(0, fp, exe, newFakeMachine(64*PageSize))
	if err != nil {
		t.Fatal(err)
	}

	idx, err := as.AllocSem(5)
	if err != nil {
		t.Fatal(err)
	}
	snap := as.SemSnapshot(-1)
	if snap[idx] != 5 {
		t.Fatalf("expected snapshot value 5, got %d", snap[idx])
	}
	for i, v := range snap {
		if i != idx && v != -1 {
			t.Fatalf("expected sentinel -1 at unused slot %d, got %d", i, v)
		}
	}

	as.FreeSem(idx)
	as.RestoreSem(idx, 9)
	if as.Sem(idx).Value() != 9 {
		t.Fatalf("expected restored value 9, got %d", as.Sem(idx).Value())
	}
}

func TestRegistryReserveGetEndProcess(t *testing.T) {
	r := NewRegistry()
	var haltCalled bool
	r.OnAllProcessesDone(func() { haltCalled = true })

	pid, err := r.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	fp := frame.New(64)
	exe := &Executable{Code: make([]byte, 1)}
	as, err := NewFromExecutable(pid, fp, exe, newFakeMachine(64*PageSize))
	if err != nil {
		t.Fatal(err)
	}
	r.Publish(pid, as)

	if r.Get(pid) != as {
		t.Fatal("expected Get to return the published AddrSpace")
	}
	if r.NumProcesses() != 1 {
		t.Fatalf("expected 1 process, got %d", r.NumProcesses())
	}

	r.EndProcess(pid)
	if r.NumProcesses() != 0 {
		t.Fatal("expected 0 processes after EndProcess")
	}
	if !haltCalled {
		t.Fatal("expected onAllDone callback to fire when the last process ends")
	}
}

func TestRegistryOutOfProcesses(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxProcesses; i++ {
		if _, err := r.Reserve(); err != nil {
			t.Fatalf("unexpected error reserving slot %d: %v", i, err)
		}
	}
	if _, err := r.Reserve(); err == nil {
		t.Fatal("expected OutOfProcesses once MaxProcesses slots are reserved")
	}
}

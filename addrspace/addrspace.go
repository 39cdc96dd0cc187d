// Package addrspace implements the per-process address space named in
// spec.md §3/§4.3: page table over the global frame pool, pid, thread
// slot table, semaphore table, and sbrk-driven heap growth.
package addrspace

import (
	"sync"

	"github.com/PapiCZ/nachosgo/frame"
	"github.com/PapiCZ/nachosgo/synch"
)

type OutOfPages struct{}

func (OutOfPages) Error() string { return "sbrk: not enough physical frames available" }

type OutOfSlots struct{ Resource string }

func (e OutOfSlots) Error() string { return "no free " + e.Resource + " slots" }

// AddrSpace is a process's page table, user stack, heap, semaphore
// table, and thread-slot table, per the GLOSSARY.
type AddrSpace struct {
	mu sync.Mutex

	pid int
	fp  *frame.Provider

	pageTable []PageTableEntry
	brk       uint32

	nThreads         int
	threadSlotUsed   [MaxThreadsPerProcess]bool
	nextUserThreadID uint32

	semUsed  [MaxSem]bool
	semTable [MaxSem]*synch.Semaphore

	// joinLock guards processJoinCond/nThreadsCond per the monitor
	// discipline synch.Condition requires.
	joinLock        *synch.Lock
	processJoinCond *synch.Condition
	nThreadsCond    *synch.Condition
	joined          bool
}

func numPagesFor(exe *Executable) int {
	total := len(exe.Code) + len(exe.InitData) + int(exe.UninitDataSize) + UserStackSize
	return (total + PageSize - 1) / PageSize
}

// newBare allocates n frames (all-or-nothing) and builds an identity
// page table over them, with per-process tables initialized empty.
func newBare(pid int, fp *frame.Provider, nPages int) (*AddrSpace, error) {
	frames, ok := fp.Alloc(nPages)
	if !ok {
		return nil, OutOfPages{}
	}

	pt := make([]PageTableEntry, nPages)
	for i, f := range frames {
		pt[i] = PageTableEntry{VirtualPage: i, PhysicalPage: f, Valid: true}
	}

	return &AddrSpace{
		pid:             pid,
		fp:              fp,
		pageTable:       pt,
		joinLock:        synch.NewLock(),
		processJoinCond: synch.NewCondition(),
		nThreadsCond:    synch.NewCondition(),
	}, nil
}

// NewFromExecutable builds the address space for a freshly exec'd
// program, per spec.md §4.3: sum code+initData+uninitData+UserStackSize,
// round up to pages, allocate frames, install the page table in the
// machine, then copy code/initData into virtual memory via WriteMem.
func NewFromExecutable(pid int, fp *frame.Provider, exe *Executable, m Machine) (*AddrSpace, error) {
	as, err := newBare(pid, fp, numPagesFor(exe))
	if err != nil {
		return nil, err
	}

	m.InstallPageTable(as.pageTable)

	for i, b := range exe.Code {
		m.WriteMem(exe.CodeVirtAddr+uint32(i), 1, uint32(b))
	}
	for i, b := range exe.InitData {
		m.WriteMem(exe.InitDataVirtAddr+uint32(i), 1, uint32(b))
	}

	as.brk = uint32(len(as.pageTable))*PageSize - UserStackSize
	return as, nil
}

// NewForMigration builds an address space of nPages frames without
// loading program bytes, for the receiving side of process migration
// (spec.md §4.3, §4.6): the caller fills memory via the simulator.
func NewForMigration(pid int, fp *frame.Provider, nPages int) (*AddrSpace, error) {
	as, err := newBare(pid, fp, nPages)
	if err != nil {
		return nil, err
	}
	as.brk = uint32(nPages)*PageSize - UserStackSize
	return as, nil
}

func (as *AddrSpace) Pid() int { return as.pid }

func (as *AddrSpace) NumPages() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.pageTable)
}

func (as *AddrSpace) PageTable() []PageTableEntry {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]PageTableEntry, len(as.pageTable))
	copy(out, as.pageTable)
	return out
}

// Sbrk grows the heap by nPages physical pages under the frame pool's
// lock, publishing a freshly-sized page table atomically, per spec.md
// §4.3's do_Sbrk. It returns the old break (as a byte offset) or an
// error if there aren't enough frames.
func (as *AddrSpace) Sbrk(nPages int, m Machine) (uint32, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	if nPages == 0 {
		return as.brk, nil
	}

	frames, ok := as.fp.Alloc(nPages)
	if !ok {
		return 0, OutOfPages{}
	}

	oldBrk := as.brk
	oldNumPages := len(as.pageTable)

	newTable := make([]PageTableEntry, oldNumPages+nPages)
	copy(newTable, as.pageTable)
	for i, f := range frames {
		newTable[oldNumPages+i] = PageTableEntry{VirtualPage: oldNumPages + i, PhysicalPage: f, Valid: true}
	}

	as.pageTable = newTable
	as.brk += uint32(nPages) * PageSize
	if m != nil {
		m.InstallPageTable(as.pageTable)
	}

	return oldBrk, nil
}

// InitRegisters returns the zeroed register file for a fresh user
// thread: PC=0, NextPC=4, sp = numPages*PageSize - 16, per spec.md §4.3.
func (as *AddrSpace) InitRegisters() []int32 {
	regs := make([]int32, NumTotalRegs)
	const (
		pcReg     = 34 // conventional NachOS PCReg-equivalent slot
		nextPCReg = 35
		spReg     = 36
	)
	regs[pcReg] = 0
	regs[nextPCReg] = 4
	as.mu.Lock()
	numPages := len(as.pageTable)
	as.mu.Unlock()
	regs[spReg] = int32(numPages)*PageSize - 16
	return regs
}

// AllocThreadSlot returns a free thread-slot index, or OutOfSlots.
// Slot i owns stack bytes [size-16-(i+1)*StackSz, size-16-i*StackSz).
func (as *AddrSpace) AllocThreadSlot() (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i := range as.threadSlotUsed {
		if !as.threadSlotUsed[i] {
			as.threadSlotUsed[i] = true
			as.nThreads++
			return i, nil
		}
	}
	return -1, OutOfSlots{Resource: "thread slot"}
}

// SlotStackTop returns the initial stack pointer for thread slot i.
func (as *AddrSpace) SlotStackTop(i int) int32 {
	as.mu.Lock()
	size := int32(len(as.pageTable)) * PageSize
	as.mu.Unlock()
	return size - 16 - int32(i)*StackSz
}

// FreeThreadSlot releases slot i, decrementing the live non-main thread
// count; it returns true when the count reaches zero (no more threads).
func (as *AddrSpace) FreeThreadSlot(i int) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.threadSlotUsed[i] = false
	as.nThreads--
	return as.nThreads == 0
}

func (as *AddrSpace) NThreads() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.nThreads
}

// NextUserThreadID returns a fresh, monotonically increasing user
// thread id, never reused while the process lives.
func (as *AddrSpace) NextUserThreadID() uint32 {
	as.mu.Lock()
	defer as.mu.Unlock()
	id := as.nextUserThreadID
	as.nextUserThreadID++
	return id
}

// AdvanceUserThreadIDPast bumps the next-id counter so it never reuses
// an id <= observed, used by migration receive (spec.md §4.6 step 6).
func (as *AddrSpace) AdvanceUserThreadIDPast(observed uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if observed+1 > as.nextUserThreadID {
		as.nextUserThreadID = observed + 1
	}
}

// AllocSem installs a semaphore with the given initial value in a free
// sem-table slot, returning its index.
func (as *AddrSpace) AllocSem(initial int32) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i := range as.semUsed {
		if !as.semUsed[i] {
			as.semUsed[i] = true
			as.semTable[i] = synch.NewSemaphore(int(initial))
			return i, nil
		}
	}
	return -1, OutOfSlots{Resource: "semaphore"}
}

func (as *AddrSpace) Sem(i int) *synch.Semaphore {
	as.mu.Lock()
	defer as.mu.Unlock()
	if i < 0 || i >= MaxSem || !as.semUsed[i] {
		return nil
	}
	return as.semTable[i]
}

func (as *AddrSpace) FreeSem(i int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.semUsed[i] = false
	as.semTable[i] = nil
}

// SemSnapshot returns the MAX_SEM values for migration serialization
// (spec.md §4.6 step 4): unused slots report sentinel.
func (as *AddrSpace) SemSnapshot(sentinel int32) []int32 {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]int32, MaxSem)
	for i := range out {
		if as.semUsed[i] {
			out[i] = int32(as.semTable[i].Value())
		} else {
			out[i] = sentinel
		}
	}
	return out
}

// RestoreSem installs semaphore values from a migration snapshot.
func (as *AddrSpace) RestoreSem(i int, value int32) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.semUsed[i] = true
	as.semTable[i] = synch.NewSemaphore(int(value))
}

// ProcessJoinWait blocks the caller until the process ends (mirrors
// ProcessJoin(pid) waiting on processJoinCond while pidMap marks pid).
func (as *AddrSpace) ProcessJoinWait() {
	as.joinLock.Acquire()
	for !as.joined {
		as.processJoinCond.Wait(as.joinLock)
	}
	as.joinLock.Release()
}

// NotifyProcessJoin wakes ProcessJoinWait callers; called from the main
// thread's Exit per spec.md §4.3.
func (as *AddrSpace) NotifyProcessJoin() {
	as.joinLock.Acquire()
	as.joined = true
	as.processJoinCond.Broadcast()
	as.joinLock.Release()
}

// WaitForAllThreads blocks until every non-main thread has exited.
func (as *AddrSpace) WaitForAllThreads() {
	as.joinLock.Acquire()
	for as.NThreads() != 0 {
		as.nThreadsCond.Wait(as.joinLock)
	}
	as.joinLock.Release()
}

// SignalAllThreadsDone wakes WaitForAllThreads once nThreads reaches 0.
func (as *AddrSpace) SignalAllThreadsDone() {
	as.joinLock.Acquire()
	as.nThreadsCond.Broadcast()
	as.joinLock.Release()
}

// Release frees every frame owned by this address space, for
// endProcess teardown (spec.md §4.3).
func (as *AddrSpace) Release() {
	as.mu.Lock()
	frames := make([]int, len(as.pageTable))
	for i, e := range as.pageTable {
		frames[i] = e.PhysicalPage
	}
	as.mu.Unlock()
	as.fp.Free(frames)
}

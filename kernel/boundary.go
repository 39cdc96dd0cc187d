package kernel

import (
	"github.com/PapiCZ/nachosgo/addrspace"
	"github.com/PapiCZ/nachosgo/fs"
)

// FlatLoader is the simplest Loader that satisfies spec.md §1's
// loader contract without an ELF reader: the whole file becomes the
// code segment, loaded at virtual address 0, with no initialized
// data segment and a single page of uninitialized data for bss/heap
// headroom. Real object-format parsing is out of scope.
type FlatLoader struct{}

func (FlatLoader) Load(fsys *fs.FileSystem, name string) (*addrspace.Executable, error) {
	st, err := fsys.Stat(name)
	if err != nil {
		return nil, err
	}

	fd, err := fsys.OpenUser(name)
	if err != nil {
		return nil, err
	}
	defer fsys.CloseUser(fd)

	code := make([]byte, st.Size)
	if _, err := fsys.ReadUser(fd, code); err != nil {
		return nil, err
	}

	return &addrspace.Executable{
		Code:           code,
		CodeVirtAddr:   0,
		UninitDataSize: addrspace.PageSize,
	}, nil
}

// flatMachine is a byte-addressable backing store standing in for the
// CPU/device simulator's memory, per the Machine boundary addrspace
// depends on. It has no instruction decoder; it only ever sees
// WriteMem/ReadMem calls issued by address-space setup and the
// migration/exception code paths.
type flatMachine struct {
	mem       []byte
	pageTable []addrspace.PageTableEntry
}

func newFlatMachine(numPhysPages int) *flatMachine {
	return &flatMachine{mem: make([]byte, numPhysPages*addrspace.PageSize)}
}

func (m *flatMachine) WriteMem(addr uint32, size int, value uint32) bool {
	if int(addr)+size > len(m.mem) {
		return false
	}
	for i := 0; i < size; i++ {
		m.mem[int(addr)+i] = byte(value >> (8 * uint(i)))
	}
	return true
}

func (m *flatMachine) ReadMem(addr uint32, size int) (uint32, bool) {
	if int(addr)+size > len(m.mem) {
		return 0, false
	}
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(m.mem[int(addr)+i]) << (8 * uint(i))
	}
	return v, true
}

func (m *flatMachine) InstallPageTable(table []addrspace.PageTableEntry) {
	m.pageTable = table
}

// FlatMachineFactory vends a fresh flatMachine per process, each
// backed by its own private byte slice sized to the machine's full
// physical frame pool.
type FlatMachineFactory struct {
	NumPhysPages int
}

func (f FlatMachineFactory) New(pid int) addrspace.Machine {
	return newFlatMachine(f.NumPhysPages)
}

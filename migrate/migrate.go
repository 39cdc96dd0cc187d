// Package migrate implements the process-migration wire protocol of
// spec.md §4.6 over an established conn.Connection: address space
// memory, registers, semaphores, and the auxiliary thread table.
package migrate

import (
	"encoding/binary"
	"math"

	"github.com/PapiCZ/nachosgo/addrspace"
	"github.com/PapiCZ/nachosgo/conn"
	"github.com/PapiCZ/nachosgo/frame"
	"github.com/PapiCZ/nachosgo/kthread"
)

const sentinel = math.MaxInt32

// MemReader/MemWriter abstract one byte of simulated memory access, the
// boundary between migration's wire protocol and the (out of scope)
// CPU simulator, mirroring addrspace.Machine's role for AddrSpace.
type MemReader func(addr uint32) byte
type MemWriter func(addr uint32, b byte)

// ThreadSnapshot is one auxiliary thread's serialized state: its
// user-level id and saved register file.
type ThreadSnapshot struct {
	UserThreadID uint32
	Registers    [addrspace.NumTotalRegs]int32
}

// Snapshot is everything SendProcess streams to the receiving machine.
type Snapshot struct {
	NumPages  uint32
	Memory    []byte // NumPages * PageSize bytes, in virtual-address order
	Registers [addrspace.NumTotalRegs]int32
	Sems      [addrspace.MaxSem]int32
	Threads   []ThreadSnapshot
}

func putU32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func putI32(buf []byte, v int32)  { binary.LittleEndian.PutUint32(buf, uint32(v)) }
func getU32(buf []byte) uint32    { return binary.LittleEndian.Uint32(buf) }
func getI32(buf []byte) int32     { return int32(binary.LittleEndian.Uint32(buf)) }

// Send streams a Snapshot over c exactly as spec.md §4.6 orders it.
// Any send failure aborts and reports false; the caller's AddrSpace is
// left untouched (no frames freed) so it can still run locally.
func Send(c *conn.Connection, snap Snapshot) bool {
	hdr := make([]byte, 4)
	putU32(hdr, snap.NumPages)
	if err := c.Send(hdr); err != nil {
		return false
	}

	if err := c.Send(snap.Memory); err != nil {
		return false
	}

	regBuf := make([]byte, 4*addrspace.NumTotalRegs)
	for i, r := range snap.Registers {
		putI32(regBuf[i*4:], r)
	}
	if err := c.Send(regBuf); err != nil {
		return false
	}

	semBuf := make([]byte, 4*addrspace.MaxSem)
	for i, v := range snap.Sems {
		putI32(semBuf[i*4:], v)
	}
	if err := c.Send(semBuf); err != nil {
		return false
	}

	nThreadsBuf := make([]byte, 4)
	putI32(nThreadsBuf, int32(len(snap.Threads)))
	if err := c.Send(nThreadsBuf); err != nil {
		return false
	}

	for i := 0; i < addrspace.MaxThreadsPerProcess; i++ {
		if i >= len(snap.Threads) {
			idBuf := make([]byte, 4)
			putI32(idBuf, sentinel)
			if err := c.Send(idBuf); err != nil {
				return false
			}
			continue
		}
		t := snap.Threads[i]
		idBuf := make([]byte, 4)
		putI32(idBuf, int32(t.UserThreadID))
		if err := c.Send(idBuf); err != nil {
			return false
		}
		regs := make([]byte, 4*addrspace.NumTotalRegs)
		for j, r := range t.Registers {
			putI32(regs[j*4:], r)
		}
		if err := c.Send(regs); err != nil {
			return false
		}
	}

	return true
}

// Receive reads a Snapshot back, overwriting r2 with 1 to mark the
// receiving side of SendProcess (spec.md §4.6 step 3).
func Receive(c *conn.Connection) Snapshot {
	hdr := c.Receive(4)
	numPages := getU32(hdr)

	mem := c.Receive(int(numPages) * addrspace.PageSize)

	regBuf := c.Receive(4 * addrspace.NumTotalRegs)
	var regs [addrspace.NumTotalRegs]int32
	for i := range regs {
		regs[i] = getI32(regBuf[i*4:])
	}
	regs[2] = 1

	semBuf := c.Receive(4 * addrspace.MaxSem)
	var sems [addrspace.MaxSem]int32
	for i := range sems {
		sems[i] = getI32(semBuf[i*4:])
	}

	nBuf := c.Receive(4)
	n := int(getI32(nBuf))

	threads := make([]ThreadSnapshot, 0, n)
	for i := 0; i < addrspace.MaxThreadsPerProcess; i++ {
		idBuf := c.Receive(4)
		id := getI32(idBuf)
		if id == sentinel {
			continue
		}
		regBuf := c.Receive(4 * addrspace.NumTotalRegs)
		var tregs [addrspace.NumTotalRegs]int32
		for j := range tregs {
			tregs[j] = getI32(regBuf[j*4:])
		}
		threads = append(threads, ThreadSnapshot{UserThreadID: uint32(id), Registers: tregs})
	}

	return Snapshot{NumPages: numPages, Memory: mem, Registers: regs, Sems: sems, Threads: threads}
}

// CaptureMemory reads numPages*PageSize bytes from the simulator one
// byte at a time, per spec.md §4.6 step 2's "byte by byte" rule.
func CaptureMemory(read MemReader, baseAddr uint32, numPages uint32) []byte {
	out := make([]byte, numPages*addrspace.PageSize)
	for i := range out {
		out[i] = read(baseAddr + uint32(i))
	}
	return out
}

// InstallMemory writes a captured memory image back via the simulator's
// byte-at-a-time interface, the receiving half of step 2.
func InstallMemory(write MemWriter, baseAddr uint32, mem []byte) {
	for i, b := range mem {
		write(baseAddr+uint32(i), b)
	}
}

// Rehydrate builds the receiving process's AddrSpace, installs the
// semaphore table and per-thread kernel threads from a Snapshot, per
// spec.md §4.6 step 6: advances next_user_thread_id past every observed
// id before installing the continuations' thread_info entries. The main
// thread (snap.Registers, with r2 already forced to 1) is installed by
// the caller via kthread.Runtime.CreateMainThread once it has decided
// the new pid; Rehydrate only handles the auxiliary thread table.
func Rehydrate(pid int, fp *frame.Provider, snap Snapshot, rt *kthread.Runtime) (*addrspace.AddrSpace, error) {
	as, err := addrspace.NewForMigration(pid, fp, int(snap.NumPages))
	if err != nil {
		return nil, err
	}

	for i, v := range snap.Sems {
		if v != sentinel {
			as.RestoreSem(i, v)
		}
	}

	for _, snapThread := range snap.Threads {
		as.AdvanceUserThreadIDPast(snapThread.UserThreadID)
		regs := snapThread.Registers
		build := func(slot int) kthread.UserContext { return kthread.UserContext{Registers: regs} }
		if _, err := rt.CreateUserThreadWithID(pid, as, snapThread.UserThreadID, build); err != nil {
			continue
		}
	}

	return as, nil
}

// Package exception implements the user-to-kernel trap dispatcher named
// in spec.md §6 "Syscall numbers" and §7's propagation rules: syscalls
// return -1/0/FALSE to user space and never throw; an unknown code logs
// and returns without advancing the PC.
package exception

import (
	"fmt"

	"github.com/PapiCZ/nachosgo/addrspace"
	"github.com/PapiCZ/nachosgo/kthread"
)

// Syscall numbers, verbatim from spec.md §6.
const (
	Halt           = 0
	Exit           = 1
	Create         = 4
	Open           = 5
	Read           = 6
	Write          = 7
	Close          = 8
	Putchar        = 11
	Putstring      = 12
	Getchar        = 13
	Getstring      = 14
	Putint         = 15
	Getint         = 16
	Threadcreate   = 17
	Threadexit     = 18
	Threadjoin     = 19
	Seminit        = 20
	Sempost        = 21
	Semwait        = 22
	Semdestroy     = 23
	Forkexec       = 24
	Sbrk           = 25
	Mkdir          = 26
	Rmdir          = 27
	Listfiles      = 28
	Changedir      = 29
	Remove         = 30
	Seek           = 31
	Sendprocess    = 32
	Listenprocess  = 33
	Processjoin    = 34
	Sendfile       = 35
	Receivefile    = 36
	Startftpserver = 37
)

// register slot conventions, shared with addrspace.InitRegisters.
const (
	resultReg = 2
	arg1Reg   = 4
	arg2Reg   = 5
	arg3Reg   = 6
	arg4Reg   = 7
	pcReg     = 34
	nextPCReg = 35
)

// Services is the kernel-facing surface the exception handler dispatches
// onto; package kernel supplies the concrete implementation so that
// exception stays free of fs/postoffice/ftp import cycles.
type Services interface {
	Halt()
	Exit(pid int, status int32)
	Create(pid int, name string, size int32) int32
	Open(pid int, name string) int32
	Read(pid int, fd int32, buf []byte) int32
	Write(pid int, fd int32, buf []byte) int32
	Close(pid int, fd int32) int32
	Threadcreate(pid int, fn uint32, arg uint32) int32
	Threadexit(pid int, tid int32)
	Threadjoin(pid int, tid int32) int32
	Seminit(pid int, initial int32) int32
	Sempost(pid int, sem int32)
	Semwait(pid int, sem int32)
	Semdestroy(pid int, sem int32)
	Forkexec(pid int, exe string) int32
	Sbrk(pid int, nPages int32) uint32
	Mkdir(pid int, name string) int32
	Rmdir(pid int, name string) int32
	Listfiles(pid int) []string
	Changedir(pid int, name string) int32
	Remove(pid int, name string) int32
	Seek(pid int, fd int32, pos int32) int32
	Sendprocess(pid int, addr int32, mbox int32) int32
	Listenprocess(pid int, mbox int32) int32
	Processjoin(pid int, pid2 int32) int32
	Sendfile(pid int, addr int32, mbox int32, name string) int32
	Receivefile(pid int, addr int32, mbox int32, name string) int32
	Startftpserver(pid int, mbox int32) int32
}

// Console is the boundary to the actual console device, an external
// collaborator out of scope per spec.md §1 in the same way addrspace.
// Machine is: Putchar/Getchar/Putstring/Getstring/Putint/Getint talk to
// it directly rather than routing through the user's open-file table,
// since fds 0/1 there are ordinary filesystem slots with nothing opened
// on them, grounded on original_source/userprog/synchconsole.cc's
// SynchPutChar/SynchGetChar/SynchPutString/SynchGetString.
type Console interface {
	PutChar(b byte)
	GetChar() byte
	PutString(s string)
	GetString(n int) string
}

// Logger is the minimal sink the handler uses for unknown-syscall and
// diagnostic messages; satisfied by *log.Logger among others.
type Logger interface {
	Printf(format string, args ...interface{})
}

type Handler struct {
	Services Services
	Console  Console
	Log      Logger
}

func New(svc Services, console Console, log Logger) *Handler {
	return &Handler{Services: svc, Console: console, Log: log}
}

// Handle dispatches one trap. pid identifies the calling process (the
// exception entry point determines it from the running thread's
// thread_info before calling Handle, per spec.md §4.3). Result values
// are written into resultReg; the PC is advanced unless the syscall is
// Exit/Threadexit/Halt, which never return to user code.
func (h *Handler) Handle(which int, pid int, m addrspace.Machine, ctx *kthread.UserContext) {
	regs := &ctx.Registers
	arg := func(slot int32) int32 { return regs[slot] }

	var result int32
	terminal := false

	switch which {
	case Halt:
		h.Services.Halt()
		terminal = true
	case Exit:
		h.Services.Exit(pid, arg(arg1Reg))
		terminal = true
	case Create:
		name := readString(m, uint32(arg(arg1Reg)))
		result = h.Services.Create(pid, name, arg(arg2Reg))
	case Open:
		name := readString(m, uint32(arg(arg1Reg)))
		result = h.Services.Open(pid, name)
	case Read:
		fd := arg(arg1Reg)
		n := arg(arg3Reg)
		buf := make([]byte, n)
		got := h.Services.Read(pid, fd, buf)
		if got > 0 {
			writeBytes(m, uint32(arg(arg2Reg)), buf[:got])
		}
		result = got
	case Write:
		fd := arg(arg1Reg)
		n := arg(arg3Reg)
		buf := readBytes(m, uint32(arg(arg2Reg)), int(n))
		result = h.Services.Write(pid, fd, buf)
	case Close:
		result = h.Services.Close(pid, arg(arg1Reg))
	case Putchar:
		h.Console.PutChar(byte(arg(arg1Reg)))
	case Putstring:
		s := readString(m, uint32(arg(arg1Reg)))
		h.Console.PutString(s)
	case Getchar:
		result = int32(h.Console.GetChar())
	case Getstring:
		addr := uint32(arg(arg1Reg))
		n := int(arg(arg2Reg))
		s := h.Console.GetString(n)
		writeNULTerminated(m, addr, []byte(s))
	case Putint:
		h.Console.PutString(fmt.Sprintf("%d", arg(arg1Reg)))
	case Getint:
		s := h.Console.GetString(32)
		var v int32
		fmt.Sscanf(s, "%d", &v)
		writeInt32(m, uint32(arg(arg1Reg)), v)
	case Threadcreate:
		result = h.Services.Threadcreate(pid, uint32(arg(arg1Reg)), uint32(arg(arg2Reg)))
	case Threadexit:
		h.Services.Threadexit(pid, arg(arg1Reg))
		terminal = true
	case Threadjoin:
		result = h.Services.Threadjoin(pid, arg(arg1Reg))
	case Seminit:
		result = h.Services.Seminit(pid, arg(arg1Reg))
	case Sempost:
		h.Services.Sempost(pid, arg(arg1Reg))
	case Semwait:
		h.Services.Semwait(pid, arg(arg1Reg))
	case Semdestroy:
		h.Services.Semdestroy(pid, arg(arg1Reg))
	case Forkexec:
		name := readString(m, uint32(arg(arg1Reg)))
		result = h.Services.Forkexec(pid, name)
	case Sbrk:
		result = int32(h.Services.Sbrk(pid, arg(arg1Reg)))
	case Mkdir:
		name := readString(m, uint32(arg(arg1Reg)))
		result = h.Services.Mkdir(pid, name)
	case Rmdir:
		name := readString(m, uint32(arg(arg1Reg)))
		result = h.Services.Rmdir(pid, name)
	case Listfiles:
		names := h.Services.Listfiles(pid)
		listing := ""
		for _, n := range names {
			listing += n + "\n"
		}
		writeNULTerminated(m, uint32(arg(arg1Reg)), []byte(listing))
	case Changedir:
		name := readString(m, uint32(arg(arg1Reg)))
		result = h.Services.Changedir(pid, name)
	case Remove:
		name := readString(m, uint32(arg(arg1Reg)))
		result = h.Services.Remove(pid, name)
	case Seek:
		result = h.Services.Seek(pid, arg(arg1Reg), arg(arg2Reg))
	case Sendprocess:
		result = h.Services.Sendprocess(pid, arg(arg1Reg), arg(arg2Reg))
	case Listenprocess:
		result = h.Services.Listenprocess(pid, arg(arg1Reg))
	case Processjoin:
		result = h.Services.Processjoin(pid, arg(arg1Reg))
	case Sendfile:
		name := readString(m, uint32(arg(arg3Reg)))
		result = h.Services.Sendfile(pid, arg(arg1Reg), arg(arg2Reg), name)
	case Receivefile:
		name := readString(m, uint32(arg(arg3Reg)))
		result = h.Services.Receivefile(pid, arg(arg1Reg), arg(arg2Reg), name)
	case Startftpserver:
		result = h.Services.Startftpserver(pid, arg(arg1Reg))
	default:
		h.Log.Printf("exception: unknown syscall code %d, ignoring", which)
		return
	}

	if terminal {
		return
	}

	regs[resultReg] = result
	regs[pcReg] = regs[nextPCReg]
	regs[nextPCReg] += 4
}

// readString reads a NUL-terminated string from user memory one byte at
// a time via Machine.ReadMem, per the StringCopy convention most of the
// Getstring/Putstring-style syscalls use.
func readString(m addrspace.Machine, addr uint32) string {
	var out []byte
	for i := uint32(0); i < 4096; i++ {
		v, ok := m.ReadMem(addr+i, 1)
		if !ok || v == 0 {
			break
		}
		out = append(out, byte(v))
	}
	return string(out)
}

// readBytes reads exactly n raw bytes (no NUL termination), used by
// the Write syscall, where the length is already known from a
// register argument rather than implied by a terminator.
func readBytes(m addrspace.Machine, addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		v, _ := m.ReadMem(addr+uint32(i), 1)
		out[i] = byte(v)
	}
	return out
}

func writeBytes(m addrspace.Machine, addr uint32, data []byte) {
	for i, b := range data {
		m.WriteMem(addr+uint32(i), 1, uint32(b))
	}
}

// writeNULTerminated writes data followed by a NUL byte, for the
// string-returning syscalls (Getstring, Listfiles).
func writeNULTerminated(m addrspace.Machine, addr uint32, data []byte) {
	writeBytes(m, addr, data)
	m.WriteMem(addr+uint32(len(data)), 1, 0)
}

func writeInt32(m addrspace.Machine, addr uint32, v int32) {
	m.WriteMem(addr, 4, uint32(v))
}

package exception

import (
	"testing"

	"github.com/PapiCZ/nachosgo/addrspace"
	"github.com/PapiCZ/nachosgo/kthread"
)

type fakeMachine struct {
	mem map[uint32]byte
}

func newFakeMachine() *fakeMachine { return &fakeMachine{mem: make(map[uint32]byte)} }

func (m *fakeMachine) WriteMem(addr uint32, size int, value uint32) bool {
	for i := 0; i < size; i++ {
		m.mem[addr+uint32(i)] = byte(value >> (8 * i))
	}
	return true
}

func (m *fakeMachine) ReadMem(addr uint32, size int) (uint32, bool) {
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(m.mem[addr+uint32(i)]) << (8 * i)
	}
	return v, true
}

func (m *fakeMachine) InstallPageTable(table []addrspace.PageTableEntry) {}

func (m *fakeMachine) writeString(addr uint32, s string) {
	for i, c := range []byte(s) {
		m.mem[addr+uint32(i)] = c
	}
	m.mem[addr+uint32(len(s))] = 0
}

type fakeLogger struct{ lastFmt string }

func (l *fakeLogger) Printf(format string, args ...interface{}) { l.lastFmt = format }

type fakeConsole struct {
	putChars   []byte
	putStrings []string
	getCharVal byte
	getStr     string
}

func (c *fakeConsole) PutChar(b byte)         { c.putChars = append(c.putChars, b) }
func (c *fakeConsole) GetChar() byte          { return c.getCharVal }
func (c *fakeConsole) PutString(s string)     { c.putStrings = append(c.putStrings, s) }
func (c *fakeConsole) GetString(n int) string { return c.getStr }

type fakeServices struct {
	halted      bool
	exitPid     int
	exitStatus  int32
	writeCalls  [][]byte
	createdName string
}

func (s *fakeServices) Halt()                                        { s.halted = true }
func (s *fakeServices) Exit(pid int, status int32)                   { s.exitPid, s.exitStatus = pid, status }
func (s *fakeServices) Create(pid int, name string, size int32) int32 { s.createdName = name; return 0 }
func (s *fakeServices) Open(pid int, name string) int32              { return 3 }
func (s *fakeServices) Read(pid int, fd int32, buf []byte) int32     { return int32(copy(buf, []byte("hi"))) }
func (s *fakeServices) Write(pid int, fd int32, buf []byte) int32 {
	s.writeCalls = append(s.writeCalls, append([]byte(nil), buf...))
	return int32(len(buf))
}
func (s *fakeServices) Close(pid int, fd int32) int32                    { return 0 }
func (s *fakeServices) Threadcreate(pid int, fn, arg uint32) int32       { return 1 }
func (s *fakeServices) Threadexit(pid int, tid int32)                    {}
func (s *fakeServices) Threadjoin(pid int, tid int32) int32              { return 0 }
func (s *fakeServices) Seminit(pid int, initial int32) int32             { return 0 }
func (s *fakeServices) Sempost(pid int, sem int32)                       {}
func (s *fakeServices) Semwait(pid int, sem int32)                       {}
func (s *fakeServices) Semdestroy(pid int, sem int32)                    {}
func (s *fakeServices) Forkexec(pid int, exe string) int32               { return 2 }
func (s *fakeServices) Sbrk(pid int, nPages int32) uint32                { return 1000 }
func (s *fakeServices) Mkdir(pid int, name string) int32                 { return 0 }
func (s *fakeServices) Rmdir(pid int, name string) int32                 { return 0 }
func (s *fakeServices) Listfiles(pid int) []string                       { return []string{"a", "b"} }
func (s *fakeServices) Changedir(pid int, name string) int32             { return 0 }
func (s *fakeServices) Remove(pid int, name string) int32                { return 0 }
func (s *fakeServices) Seek(pid int, fd, pos int32) int32                { return 0 }
func (s *fakeServices) Sendprocess(pid int, addr, mbox int32) int32      { return 0 }
func (s *fakeServices) Listenprocess(pid int, mbox int32) int32          { return 0 }
func (s *fakeServices) Processjoin(pid int, pid2 int32) int32            { return 0 }
func (s *fakeServices) Sendfile(pid int, addr, mbox int32, name string) int32 { return 0 }
func (s *fakeServices) Receivefile(pid int, addr, mbox int32, name string) int32 { return 0 }
func (s *fakeServices) Startftpserver(pid int, mbox int32) int32         { return 0 }

func newTestCtx() (*kthread.UserContext, *fakeMachine) {
	ctx := &kthread.UserContext{}
	ctx.Registers[nextPCReg] = 4
	return ctx, newFakeMachine()
}

func TestCreateDispatchesAndAdvancesPC(t *testing.T) {
	svc := &fakeServices{}
	h := New(svc, &fakeConsole{}, &fakeLogger{})
	ctx, m := newTestCtx()
	m.writeString(100, "hello.txt")
	ctx.Registers[arg1Reg] = 100
	ctx.Registers[arg2Reg] = 42

	h.Handle(Create, 7, m, ctx)

	if svc.createdName != "hello.txt" {
		t.Fatalf("expected Create to receive %q, got %q", "hello.txt", svc.createdName)
	}
	if ctx.Registers[pcReg] != 4 {
		t.Fatalf("expected pcReg == 4, got %d", ctx.Registers[pcReg])
	}
	if ctx.Registers[nextPCReg] != 8 {
		t.Fatalf("expected nextPCReg == 8, got %d", ctx.Registers[nextPCReg])
	}
}

func TestWriteReadsExactLengthFromMemory(t *testing.T) {
	svc := &fakeServices{}
	h := New(svc, &fakeConsole{}, &fakeLogger{})
	ctx, m := newTestCtx()
	m.writeString(200, "payload!!")
	ctx.Registers[arg1Reg] = 1
	ctx.Registers[arg2Reg] = 200
	ctx.Registers[arg3Reg] = 7

	h.Handle(Write, 1, m, ctx)

	if len(svc.writeCalls) != 1 || string(svc.writeCalls[0]) != "payload" {
		t.Fatalf("expected Write to receive exactly 7 bytes %q, got %v", "payload", svc.writeCalls)
	}
	if ctx.Registers[resultReg] != 7 {
		t.Fatalf("expected resultReg == 7, got %d", ctx.Registers[resultReg])
	}
}

func TestExitIsTerminalAndDoesNotAdvancePC(t *testing.T) {
	svc := &fakeServices{}
	h := New(svc, &fakeConsole{}, &fakeLogger{})
	ctx, m := newTestCtx()
	ctx.Registers[arg1Reg] = 5

	h.Handle(Exit, 3, m, ctx)

	if svc.exitPid != 3 || svc.exitStatus != 5 {
		t.Fatalf("expected Exit(3, 5), got Exit(%d, %d)", svc.exitPid, svc.exitStatus)
	}
	if ctx.Registers[pcReg] != 0 {
		t.Fatal("expected a terminal syscall to leave pcReg untouched")
	}
}

func TestHaltIsTerminal(t *testing.T) {
	svc := &fakeServices{}
	h := New(svc, &fakeConsole{}, &fakeLogger{})
	ctx, m := newTestCtx()

	h.Handle(Halt, 0, m, ctx)

	if !svc.halted {
		t.Fatal("expected Halt to be invoked")
	}
}

func TestUnknownSyscallLogsAndDoesNotAdvancePC(t *testing.T) {
	svc := &fakeServices{}
	log := &fakeLogger{}
	h := New(svc, &fakeConsole{}, log)
	ctx, m := newTestCtx()

	h.Handle(9999, 0, m, ctx)

	if log.lastFmt == "" {
		t.Fatal("expected unknown syscall to log a message")
	}
	if ctx.Registers[pcReg] != 0 {
		t.Fatal("expected an unknown syscall to leave pcReg untouched")
	}
}

func TestGetstringWritesNULTerminatedResult(t *testing.T) {
	svc := &fakeServices{}
	con := &fakeConsole{getStr: "hi"}
	h := New(svc, con, &fakeLogger{})
	ctx, m := newTestCtx()
	ctx.Registers[arg1Reg] = 300
	ctx.Registers[arg2Reg] = 10

	h.Handle(Getstring, 0, m, ctx)

	// con.GetString always returns "hi" (2 bytes), so the terminator
	// lands right after it.
	nul, _ := m.ReadMem(300+2, 1)
	if nul != 0 {
		t.Fatalf("expected NUL terminator after the 2-byte read result, got %d", nul)
	}
}

func TestPutcharSendsByteToConsole(t *testing.T) {
	svc := &fakeServices{}
	con := &fakeConsole{}
	h := New(svc, con, &fakeLogger{})
	ctx, m := newTestCtx()
	ctx.Registers[arg1Reg] = int32('x')

	h.Handle(Putchar, 0, m, ctx)

	if len(con.putChars) != 1 || con.putChars[0] != 'x' {
		t.Fatalf("expected console to receive 'x', got %v", con.putChars)
	}
}

func TestGetcharReturnsConsoleValue(t *testing.T) {
	svc := &fakeServices{}
	con := &fakeConsole{getCharVal: 'z'}
	h := New(svc, con, &fakeLogger{})
	ctx, m := newTestCtx()

	h.Handle(Getchar, 0, m, ctx)

	if ctx.Registers[resultReg] != int32('z') {
		t.Fatalf("expected resultReg == 'z', got %d", ctx.Registers[resultReg])
	}
}

func TestPutstringSendsWholeStringToConsole(t *testing.T) {
	svc := &fakeServices{}
	con := &fakeConsole{}
	h := New(svc, con, &fakeLogger{})
	ctx, m := newTestCtx()
	m.writeString(400, "hello")
	ctx.Registers[arg1Reg] = 400

	h.Handle(Putstring, 0, m, ctx)

	if len(con.putStrings) != 1 || con.putStrings[0] != "hello" {
		t.Fatalf("expected console to receive %q, got %v", "hello", con.putStrings)
	}
}

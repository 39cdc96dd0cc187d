package kernel

import (
	"github.com/PapiCZ/nachosgo/addrspace"
	"github.com/PapiCZ/nachosgo/conn"
	"github.com/PapiCZ/nachosgo/ftp"
	"github.com/PapiCZ/nachosgo/kthread"
	"github.com/PapiCZ/nachosgo/migrate"
)

// Halt logs the halt request; the machine actually stopping (tearing
// down goroutines, returning control to whatever embeds the Kernel) is
// the caller's decision, since the CPU simulator that would otherwise
// be halted is out of scope per spec.md §1.
func (k *Kernel) Halt() {
	k.Log.Printf("machine %d: Halt", k.Addr)
}

// Exit implements spec.md §4.3's process-exit syscall: run the main
// thread's exit sequence and release the pid.
func (k *Kernel) Exit(pid int, status int32) {
	p := k.process(pid)
	if p == nil {
		return
	}
	k.Log.Printf("pid %d: Exit(%d)", pid, status)
	kthread.ExitMainThread(k.Threads, p.mainTid, p.as)
	k.AddrSpaces.EndProcess(pid)
	k.mu.Lock()
	delete(k.procs, pid)
	k.mu.Unlock()
}

func (k *Kernel) Create(pid int, name string, size int32) int32 {
	if err := k.FS.Create(name, int64(size)); err != nil {
		return -1
	}
	return 0
}

func (k *Kernel) Open(pid int, name string) int32 {
	fd, err := k.FS.OpenUser(name)
	if err != nil {
		return -1
	}
	return int32(fd)
}

func (k *Kernel) Read(pid int, fd int32, buf []byte) int32 {
	n, err := k.FS.ReadUser(int(fd), buf)
	if err != nil {
		return -1
	}
	return int32(n)
}

func (k *Kernel) Write(pid int, fd int32, buf []byte) int32 {
	n, err := k.FS.WriteUser(int(fd), buf)
	if err != nil {
		return -1
	}
	return int32(n)
}

func (k *Kernel) Close(pid int, fd int32) int32 {
	if err := k.FS.CloseUser(int(fd)); err != nil {
		return -1
	}
	return 0
}

// Threadcreate implements spec.md §4.3's do_UserThreadCreate: build the
// new thread's register file from the process's InitRegisters template,
// overriding PC with fn and the first argument register with arg, then
// install it via the thread runtime.
func (k *Kernel) Threadcreate(pid int, fn uint32, arg uint32) int32 {
	p := k.process(pid)
	if p == nil {
		return -1
	}

	const (
		pcReg     = 34
		nextPCReg = 35
		spReg     = 36
		arg1Reg   = 4
	)

	build := func(slot int) kthread.UserContext {
		var ctx kthread.UserContext
		copy(ctx.Registers[:], p.as.InitRegisters())
		ctx.Registers[pcReg] = int32(fn)
		ctx.Registers[nextPCReg] = int32(fn) + 4
		ctx.Registers[spReg] = p.as.SlotStackTop(slot)
		ctx.Registers[arg1Reg] = int32(arg)
		return ctx
	}

	tid, err := k.Threads.CreateUserThread(pid, p.as, build)
	if err != nil {
		return -1
	}
	return int32(tid)
}

func (k *Kernel) Threadexit(pid int, userTid int32) {
	p := k.process(pid)
	if p == nil {
		return
	}
	tid, ok := k.Threads.TidForUser(pid, uint32(userTid))
	if !ok {
		return
	}
	k.Threads.ExitUserThread(tid, p.as)
}

func (k *Kernel) Threadjoin(pid int, userTid int32) int32 {
	tid, ok := k.Threads.TidForUser(pid, uint32(userTid))
	if !ok {
		return -1
	}
	k.Threads.Join(tid)
	return 0
}

func (k *Kernel) Seminit(pid int, initial int32) int32 {
	p := k.process(pid)
	if p == nil {
		return -1
	}
	sem, err := p.as.AllocSem(initial)
	if err != nil {
		return -1
	}
	return int32(sem)
}

func (k *Kernel) Sempost(pid int, sem int32) {
	p := k.process(pid)
	if p == nil {
		return
	}
	if s := p.as.Sem(int(sem)); s != nil {
		s.V()
	}
}

func (k *Kernel) Semwait(pid int, sem int32) {
	p := k.process(pid)
	if p == nil {
		return
	}
	if s := p.as.Sem(int(sem)); s != nil {
		s.P()
	}
}

func (k *Kernel) Semdestroy(pid int, sem int32) {
	p := k.process(pid)
	if p == nil {
		return
	}
	p.as.FreeSem(int(sem))
}

// Forkexec implements spec.md §4.3's ForkExec: reserve a pid, ask the
// (out-of-scope-contract) Loader for the program's segments, build the
// AddrSpace, obtain a Machine for it, install the main thread, and
// publish the process.
func (k *Kernel) Forkexec(pid int, exe string) int32 {
	newPid, err := k.AddrSpaces.Reserve()
	if err != nil {
		return -1
	}

	descriptor, err := k.Loader.Load(k.FS, exe)
	if err != nil {
		k.AddrSpaces.Publish(newPid, nil)
		return -1
	}

	machine := k.Machines.New(newPid)
	as, err := addrspace.NewFromExecutable(newPid, k.Frames, descriptor, machine)
	if err != nil {
		k.AddrSpaces.Publish(newPid, nil)
		return -1
	}
	k.AddrSpaces.Publish(newPid, as)

	var initCtx kthread.UserContext
	copy(initCtx.Registers[:], as.InitRegisters())
	mainTid, err := k.Threads.CreateMainThread(newPid, initCtx)
	if err != nil {
		k.AddrSpaces.EndProcess(newPid)
		return -1
	}

	k.mu.Lock()
	k.procs[newPid] = &process{as: as, machine: machine, mainTid: mainTid}
	k.mu.Unlock()

	return int32(newPid)
}

func (k *Kernel) Sbrk(pid int, nPages int32) uint32 {
	p := k.process(pid)
	if p == nil {
		return 0
	}
	oldBrk, err := p.as.Sbrk(int(nPages), p.machine)
	if err != nil {
		return 0
	}
	return oldBrk
}

func (k *Kernel) Mkdir(pid int, name string) int32 {
	if err := k.FS.CreateDir(name); err != nil {
		return -1
	}
	return 0
}

func (k *Kernel) Rmdir(pid int, name string) int32 {
	if err := k.FS.RemoveDir(name); err != nil {
		return -1
	}
	return 0
}

func (k *Kernel) Listfiles(pid int) []string {
	names, err := k.FS.List()
	if err != nil {
		return nil
	}
	return names
}

func (k *Kernel) Changedir(pid int, name string) int32 {
	if err := k.FS.ChangeDir(name); err != nil {
		return -1
	}
	return 0
}

func (k *Kernel) Remove(pid int, name string) int32 {
	if err := k.FS.Remove(name); err != nil {
		return -1
	}
	return 0
}

func (k *Kernel) Seek(pid int, fd int32, pos int32) int32 {
	if err := k.FS.SeekUser(int(fd), int64(pos)); err != nil {
		return -1
	}
	return 0
}

// Sendprocess implements the migration-triggering syscall: connect to
// the destination machine, snapshot the current process's page count,
// memory, main-thread registers and semaphores, and stream it per
// spec.md §4.6. Auxiliary threads are not captured: the snapshot's
// thread table is sent empty. The caller is responsible for deciding,
// on success, whether to Exit the local process afterwards.
func (k *Kernel) Sendprocess(pid int, addr int32, mbox int32) int32 {
	p := k.process(pid)
	if p == nil {
		return -1
	}

	c, err := conn.Connect(k.PO, addr, k.Now)
	if err != nil {
		return -1
	}
	defer c.Disconnect()

	mainCtx, _ := k.Threads.Context(p.mainTid)
	snap := migrate.Snapshot{
		NumPages:  uint32(p.as.NumPages()),
		Registers: mainCtx.Registers,
	}
	copy(snap.Sems[:], p.as.SemSnapshot(sentinelInt32))
	snap.Memory = migrate.CaptureMemory(func(addr uint32) byte {
		v, _ := p.machine.ReadMem(addr, 1)
		return byte(v)
	}, 0, snap.NumPages)

	if !migrate.Send(c, snap) {
		return -1
	}
	return 0
}

const sentinelInt32 = 1<<31 - 1

// Listenprocess implements the receiving half: listen for an incoming
// migration connection, decode the Snapshot, rehydrate an AddrSpace and
// thread table for it, and publish a new local pid.
func (k *Kernel) Listenprocess(pid int, mbox int32) int32 {
	c, err := conn.Listen(k.PO)
	if err != nil {
		return -1
	}
	defer c.Disconnect()

	snap := migrate.Receive(c)

	newPid, err := k.AddrSpaces.Reserve()
	if err != nil {
		return -1
	}

	as, err := migrate.Rehydrate(newPid, k.Frames, snap, k.Threads)
	if err != nil {
		k.AddrSpaces.Publish(newPid, nil)
		return -1
	}
	k.AddrSpaces.Publish(newPid, as)

	machine := k.Machines.New(newPid)
	migrate.InstallMemory(func(addr uint32, b byte) {
		machine.WriteMem(addr, 1, uint32(b))
	}, 0, snap.Memory)

	mainTid, err := k.Threads.CreateMainThread(newPid, kthread.UserContext{Registers: snap.Registers})
	if err != nil {
		k.AddrSpaces.EndProcess(newPid)
		return -1
	}

	k.mu.Lock()
	k.procs[newPid] = &process{as: as, machine: machine, mainTid: mainTid}
	k.mu.Unlock()

	return int32(newPid)
}

// Processjoin blocks until the target pid's process has exited, per
// the ProcessJoin(pid) contract.
func (k *Kernel) Processjoin(pid int, target int32) int32 {
	as := k.AddrSpaces.Get(int(target))
	if as == nil {
		return -1
	}
	as.ProcessJoinWait()
	return 0
}

// Sendfile implements the FTP client's SENDFILE syscall: connect to
// addr's listen box, run the WRITEFILE client protocol, then disconnect.
func (k *Kernel) Sendfile(pid int, addr int32, mbox int32, name string) int32 {
	fd, err := k.FS.OpenUser(name)
	if err != nil {
		return -1
	}
	defer k.FS.CloseUser(fd)

	st, err := k.FS.Stat(name)
	if err != nil {
		return -1
	}
	data := make([]byte, st.Size)
	if _, err := k.FS.ReadUser(fd, data); err != nil {
		return -1
	}

	c, err := conn.Connect(k.PO, addr, k.Now)
	if err != nil {
		return -1
	}
	defer c.Disconnect()

	if ftp.SendFile(c, name, data) != nil {
		return -1
	}
	return 0
}

// Receivefile implements the FTP client's RECEIVEFILE syscall: connect
// to addr's FTP server, run the READFILE client protocol, and write the
// bytes to a local file of the same name.
func (k *Kernel) Receivefile(pid int, addr int32, mbox int32, name string) int32 {
	c, err := conn.Connect(k.PO, addr, k.Now)
	if err != nil {
		return -1
	}
	defer c.Disconnect()

	data, err := ftp.GetFile(c, name)
	if err != nil {
		return -1
	}

	if err := k.FS.Create(name, int64(len(data))); err != nil {
		return -1
	}
	fd, err := k.FS.OpenUser(name)
	if err != nil {
		return -1
	}
	defer k.FS.CloseUser(fd)
	if _, err := k.FS.WriteUser(fd, data); err != nil {
		return -1
	}
	return 0
}

// Startftpserver implements spec.md §4.7's server main loop: accept
// connections, reject duplicate clients by machine address, and fork a
// per-client handler goroutine that serves requests against the local
// filesystem via the fsAdapter bridge.
func (k *Kernel) Startftpserver(pid int, mbox int32) int32 {
	go k.ftpServerLoop()
	return 0
}

func (k *Kernel) ftpServerLoop() {
	for {
		c, err := conn.Listen(k.PO)
		if err != nil {
			return
		}

		k.ftpMu.Lock()
		already := k.ftpConnected[c.PeerAddr]
		if !already {
			k.ftpConnected[c.PeerAddr] = true
		}
		k.ftpMu.Unlock()

		if already {
			ftp.Reject(c)
			c.Disconnect()
			continue
		}

		go func(c *conn.Connection) {
			defer func() {
				k.ftpMu.Lock()
				delete(k.ftpConnected, c.PeerAddr)
				k.ftpMu.Unlock()
			}()
			ftp.ServeClient(c, fsAdapter{k.FS})
		}(c)
	}
}

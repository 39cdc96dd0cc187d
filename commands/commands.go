// Package commands holds the thin CLI verb implementations the shell
// wires up, each operating on a shared *kernel.Kernel the way the
// teacher's commands operated on a shared *vfs.Filesystem.
package commands

import (
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/PapiCZ/nachosgo/kernel"
)

func krn(c *ishell.Context) *kernel.Kernel {
	return c.Get("kernel").(*kernel.Kernel)
}

func Ls(c *ishell.Context) {
	k := krn(c)
	names, err := k.FS.List()
	if err != nil {
		c.Err(err)
		return
	}
	for _, name := range names {
		c.Println(name)
	}
}

// Fsck runs the filesystem's consistency walk and reports whether the
// free map agrees with what every reachable header actually owns.
func Fsck(c *ishell.Context) {
	if err := krn(c).FS.Check(); err != nil {
		c.Err(err)
		return
	}
	c.Println("filesystem OK")
}

func Mkdir(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: mkdir <name>")
		return
	}
	if err := krn(c).FS.CreateDir(c.Args[0]); err != nil {
		c.Err(err)
	}
}

func Rmdir(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: rmdir <name>")
		return
	}
	if err := krn(c).FS.RemoveDir(c.Args[0]); err != nil {
		c.Err(err)
	}
}

func Rm(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: rm <name>")
		return
	}
	if err := krn(c).FS.Remove(c.Args[0]); err != nil {
		c.Err(err)
	}
}

func Cd(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: cd <name>")
		return
	}
	if err := krn(c).FS.ChangeDir(c.Args[0]); err != nil {
		c.Err(err)
	}
}

func Touch(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: touch <name>")
		return
	}
	if err := krn(c).FS.Create(c.Args[0], 0); err != nil {
		c.Err(err)
	}
}

func Cat(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: cat <name>")
		return
	}
	k := krn(c)

	st, err := k.FS.Stat(c.Args[0])
	if err != nil {
		c.Err(err)
		return
	}

	fd, err := k.FS.OpenUser(c.Args[0])
	if err != nil {
		c.Err(err)
		return
	}
	defer k.FS.CloseUser(fd)

	buf := make([]byte, st.Size)
	if _, err := k.FS.ReadUser(fd, buf); err != nil {
		c.Err(err)
		return
	}
	c.Print(string(buf))
}

// Echo implements `echo <text> <file>`, appending text to file,
// creating it first if it doesn't exist.
func Echo(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("usage: echo <text> <file>")
		return
	}
	k := krn(c)
	text, name := c.Args[0], c.Args[1]

	if _, err := k.FS.Stat(name); err != nil {
		if err := k.FS.Create(name, 0); err != nil {
			c.Err(err)
			return
		}
	}

	fd, err := k.FS.OpenUser(name)
	if err != nil {
		c.Err(err)
		return
	}
	defer k.FS.CloseUser(fd)

	// SeekUser wraps offsets modulo the file length, so seeking to the
	// size would land back on 0; reading the existing contents leaves
	// the position at end of file instead.
	if _, err := k.FS.ReadUser(fd, make([]byte, seekEnd(k, name))); err != nil {
		c.Err(err)
		return
	}
	if _, err := k.FS.WriteUser(fd, []byte(text)); err != nil {
		c.Err(err)
	}
}

func seekEnd(k *kernel.Kernel, name string) int64 {
	st, err := k.FS.Stat(name)
	if err != nil {
		return 0
	}
	return st.Size
}

// Run forks and execs the named program via Forkexec, the CLI acting
// as a privileged caller with a synthetic pid of 0.
func Run(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: run <exe>")
		return
	}
	pid := krn(c).Forkexec(0, c.Args[0])
	if pid < 0 {
		c.Println("run: failed")
		return
	}
	c.Printf("started pid %d\n", pid)
}

func Get(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("usage: get <addr> <file>")
		return
	}
	k := krn(c)
	var addr, mbox int32
	fmt.Sscanf(c.Args[0], "%d", &addr)
	if rc := k.Receivefile(0, addr, mbox, c.Args[1]); rc < 0 {
		c.Println("get: failed")
	}
}

func Send(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("usage: send <addr> <file>")
		return
	}
	k := krn(c)
	var addr, mbox int32
	fmt.Sscanf(c.Args[0], "%d", &addr)
	if rc := k.Sendfile(0, addr, mbox, c.Args[1]); rc < 0 {
		c.Println("send: failed")
	}
}

// Cp copies src to dst, both paths inside the kernel filesystem.
func Cp(c *ishell.Context) {
	if len(c.Args) != 2 {
		c.Println("usage: cp <src> <dst>")
		return
	}
	k := krn(c)
	src, dst := c.Args[0], c.Args[1]

	st, err := k.FS.Stat(src)
	if err != nil {
		c.Err(err)
		return
	}

	srcFd, err := k.FS.OpenUser(src)
	if err != nil {
		c.Err(err)
		return
	}
	defer k.FS.CloseUser(srcFd)

	data := make([]byte, st.Size)
	if _, err := k.FS.ReadUser(srcFd, data); err != nil {
		c.Err(err)
		return
	}

	if err := k.FS.Create(dst, st.Size); err != nil {
		c.Err(err)
		return
	}
	dstFd, err := k.FS.OpenUser(dst)
	if err != nil {
		c.Err(err)
		return
	}
	defer k.FS.CloseUser(dstFd)

	if _, err := k.FS.WriteUser(dstFd, data); err != nil {
		c.Err(err)
	}
}

// P prints the number of live processes, per spec.md §8's "p" CLI verb.
func P(c *ishell.Context) {
	k := krn(c)
	c.Printf("%d process(es) running\n", k.AddrSpaces.NumProcesses())
}


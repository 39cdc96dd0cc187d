package shell

import (
	"github.com/abiosoft/ishell"

	"github.com/PapiCZ/nachosgo/commands"
	"github.com/PapiCZ/nachosgo/kernel"
)

// Register installs every CLI verb named in spec.md §6 onto sh,
// threading k through the shell context the way the teacher's main.go
// threaded *vfs.Filesystem via shell.Set("fs", ...).
func Register(sh *ishell.Shell, k *kernel.Kernel) {
	sh.Set("kernel", k)

	verbs := []struct {
		name string
		fn   func(*ishell.Context)
	}{
		{"ls", commands.Ls},
		{"cp", commands.Cp},
		{"rm", commands.Rm},
		{"mkdir", commands.Mkdir},
		{"rmdir", commands.Rmdir},
		{"cd", commands.Cd},
		{"fsck", commands.Fsck},
		{"touch", commands.Touch},
		{"cat", commands.Cat},
		{"echo", commands.Echo},
		{"run", commands.Run},
		{"get", commands.Get},
		{"send", commands.Send},
		{"p", commands.P},
		{"test", runScript},
		{"quit", quit},
	}

	for _, v := range verbs {
		sh.AddCmd(&ishell.Cmd{Name: v.name, Func: v.fn, Completer: nil})
	}
}

func quit(c *ishell.Context) {
	printInfo(c, "bye")
	c.Stop()
}

// dispatch limits the canned scenario below to verbs that only touch
// the local filesystem, so "test" can't accidentally fork a process
// or open a network connection from a script line.
var dispatch = map[string]func(*ishell.Context){
	"touch": commands.Touch,
	"echo":  commands.Echo,
	"cat":   commands.Cat,
	"mkdir": commands.Mkdir,
	"cd":    commands.Cd,
	"rmdir": commands.Rmdir,
	"rm":    commands.Rm,
	"ls":    commands.Ls,
}

// scenario is a canned file and directory round trip exercising
// spec.md §8's testable file-system properties end to end through
// the CLI surface.
var scenario = []string{
	`touch smoke.txt`,
	`echo "hello nachos" smoke.txt`,
	`cat smoke.txt`,
	`mkdir smoketest`,
	`cd smoketest`,
	`cd ..`,
	`rmdir smoketest`,
	`rm smoke.txt`,
}

func runScript(c *ishell.Context) {
	for _, line := range scenario {
		args, err := tokenize(line)
		if err != nil {
			printError(c, "FAIL %q: %v", line, err)
			return
		}
		if len(args) == 0 {
			continue
		}

		name, rest := args[0], args[1:]
		fn, ok := dispatch[name]
		if !ok {
			printError(c, "FAIL %q: unknown command", line)
			return
		}

		printInfo(c, "> %s", line)
		saved := c.Args
		c.Args = rest
		fn(c)
		c.Args = saved
	}

	printOK(c, "test scenario completed")
}

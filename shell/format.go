// Package shell wires the ishell-based kernel console described in
// spec.md §6: one ishell.Cmd per CLI verb, operating on a shared
// *kernel.Kernel threaded through the ishell.Context.
package shell

import (
	"github.com/abiosoft/ishell"
	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

func printOK(c *ishell.Context, format string, args ...interface{}) {
	c.Println(okColor.Sprintf(format, args...))
}

func printError(c *ishell.Context, format string, args ...interface{}) {
	c.Println(errColor.Sprintf(format, args...))
}

func printInfo(c *ishell.Context, format string, args ...interface{}) {
	c.Println(infoColor.Sprintf(format, args...))
}

package fs

import "fmt"

// Error kinds named in spec.md §7. Each is a distinct type so callers
// can type-switch the way the teacher's vfs.DirectoryEntryNotFound /
// vfsapi.DirectoryIsNotEmpty are switched on in shell/commands.go.

type NotFound struct{ Name string }

func (e NotFound) Error() string { return fmt.Sprintf("not found: %s", e.Name) }

type Exists struct{ Name string }

func (e Exists) Error() string { return fmt.Sprintf("already exists: %s", e.Name) }

type Reserved struct{ Name string }

func (e Reserved) Error() string { return fmt.Sprintf("reserved name: %s", e.Name) }

type OutOfSpace struct{}

func (e OutOfSpace) Error() string { return "disk out of space" }

type OutOfSlots struct{ Resource string }

func (e OutOfSlots) Error() string { return fmt.Sprintf("no free %s slots", e.Resource) }

type TypeMismatch struct {
	Name string
	Want string
}

func (e TypeMismatch) Error() string {
	return fmt.Sprintf("%s is not a %s", e.Name, e.Want)
}

type InUse struct{ Name string }

func (e InUse) Error() string { return fmt.Sprintf("file is open: %s", e.Name) }

type NotEmpty struct{ Name string }

func (e NotEmpty) Error() string { return fmt.Sprintf("directory not empty: %s", e.Name) }

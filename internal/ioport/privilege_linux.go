//go:build linux

package ioport

import "golang.org/x/sys/unix"

// Raise requests x86 I/O privilege level 3 via iopl(2), the documented OS
// prerequisite for this whole project (spec-level precondition, not
// something the core observes or depends on beyond this one startup call).
// It typically requires CAP_SYS_RAWIO.
func Raise() error {
	return unix.Iopl(3)
}

//go:build windows

package sockets

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// tuneForIngress applies SO_REUSEADDR, the one option Windows exposes with
// semantics close enough to the Unix tuning to be worth setting.
func tuneForIngress(fd int) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}

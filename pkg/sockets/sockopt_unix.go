//go:build linux || darwin

package sockets

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneForIngress applies the subset of socket options relevant to a UDP
// listener that many senders may bind against during a restart: address
// reuse, and port reuse where the platform supports it cleanly.
func tuneForIngress(fd int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}
	// SO_REUSEPORT lets multiple ingress listeners share one port with
	// kernel-level load spreading. Best-effort: older kernels and some
	// container runtimes reject it.
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}

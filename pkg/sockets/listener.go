// Package sockets owns the two socket-facing concerns of the relay: the
// ingress UDP listener (adapted from the teacher's per-platform socket
// tuning) and the send-socket cache used for egress fan-out
// (SPEC_FULL.md §4.4).
package sockets

import (
	"fmt"
	"net"
)

// ListenIngress opens and tunes the UDP listener packets arrive on.
func ListenIngress(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("sockets: resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("sockets: listen %q: %w", addr, err)
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sockets: syscall conn: %w", err)
	}

	var tuneErr error
	err = rawConn.Control(func(fd uintptr) {
		tuneErr = tuneForIngress(int(fd))
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sockets: control: %w", err)
	}
	if tuneErr != nil {
		// Non-fatal: a listener without SO_REUSEADDR still works, it just
		// can't share its port with a second process on restart.
		_ = tuneErr
	}

	return conn, nil
}

//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneConn applies the socket options every channel connection needs:
// SO_REUSEADDR, TCP_NODELAY, SO_KEEPALIVE.
func tuneConn(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return err
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return err
	}

	rc, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = rc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// tuneListener applies SO_REUSEADDR to the listening socket itself, so
// a restarted daemon can rebind the port promptly.
func tuneListener(lc net.ListenConfig) net.ListenConfig {
	lc.Control = func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
	return lc
}

//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// tuneConn applies the socket options every channel connection needs:
// TCP_NODELAY and SO_KEEPALIVE. SO_REUSEADDR has no well-defined
// meaning on Windows client sockets and is skipped.
func tuneConn(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return err
	}
	return tc.SetKeepAlive(true)
}

// tuneListener applies SO_REUSEADDR to the listening socket.
func tuneListener(lc net.ListenConfig) net.ListenConfig {
	lc.Control = func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
	return lc
}

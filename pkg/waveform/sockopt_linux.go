//go:build linux

package waveform

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket disables Nagle and, when sndbuf is positive, sizes the kernel
// send buffer so a frame burst does not stall on the first partial write.
func tuneSocket(conn net.Conn, sndbuf int) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}

	var opErr error
	err = raw.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); opErr != nil {
			opErr = fmt.Errorf("TCP_NODELAY: %w", opErr)
			return
		}
		if sndbuf > 0 {
			if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sndbuf); opErr != nil {
				opErr = fmt.Errorf("SO_SNDBUF: %w", opErr)
			}
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

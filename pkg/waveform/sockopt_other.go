//go:build !linux

package waveform

import "net"

func tuneSocket(conn net.Conn, sndbuf int) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return err
	}
	if sndbuf > 0 {
		return tc.SetWriteBuffer(sndbuf)
	}
	return nil
}

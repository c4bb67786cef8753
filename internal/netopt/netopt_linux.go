//go:build linux

package netopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Control configures TCP performance options on a raw socket fd. It is
// suitable for both net.Dialer.Control (outbound Producer/Gateway dials) and
// net.ListenConfig.Control (Geo-Relay/Gateway listeners).
func Control(_, _ string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sysErr = e
			return
		}

		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			sysErr = e
			return
		}

		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
			sysErr = e
			return
		}

		// Keepalive idle time: 30 seconds
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); e != nil {
			sysErr = e
			return
		}

		// Keepalive interval: 10 seconds
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
			sysErr = e
			return
		}

		// Keepalive probes: 3
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}

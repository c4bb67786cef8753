//go:build !linux

package netopt

import "syscall"

// Control is a no-op on non-Linux platforms. The Linux-specific version in
// netopt_linux.go sets SO_REUSEADDR, TCP_NODELAY, and keepalive options.
func Control(_, _ string, _ syscall.RawConn) error {
	return nil
}

// Package netopt applies the TCP socket tuning every daemon in geoproxy
// wants on both ends of a connection: fast restart via SO_REUSEADDR,
// low-latency writes via TCP_NODELAY, and dead-peer detection via TCP
// keepalive. It generalizes the single dial-side Control func the teacher
// proxy used into one shared by dialers and listeners alike.
package netopt

import (
	"context"
	"net"
	"time"
)

// Dialer returns a net.Dialer pre-configured with geoproxy's socket options
// and the given connect timeout.
func Dialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   Control,
	}
}

// Listen opens a TCP listener on addr with geoproxy's socket options applied,
// honoring ctx for cancellation of the listen call itself.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: Control}
	return lc.Listen(ctx, "tcp", addr)
}

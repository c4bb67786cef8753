// Package splice implements the bidirectional byte-copy loop used by the
// Client-Gateway (end-user ↔ relay) and the Producer's protocol engine
// (relay ↔ upstream target). The Geo-Relay does not use it: its pooled
// Producer connections already have a reader, so it forwards through its
// own per-connection loop instead.
//
// The original design used a single-threaded select() with a 500ms timeout
// to avoid deadlocking on whichever side has no data ready. Go doesn't need
// that trick — one goroutine per direction reads independently — but the
// 500ms bound is kept as a read deadline so a cancelled context is noticed
// promptly instead of blocking on a Read that may never return.
package splice

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	bufSize      = 1024
	pollInterval = 500 * time.Millisecond
)

// Run forwards bytes between a and b in both directions until either side
// reaches EOF or errors, or ctx is cancelled. It closes both connections
// before returning. The first terminal error encountered (from either
// direction) is returned; ctx.Err() is returned if cancellation occurred
// first.
func Run(ctx context.Context, a, b net.Conn) error {
	errCh := make(chan error, 2)

	go func() { errCh <- pipe(ctx, b, a) }()
	go func() { errCh <- pipe(ctx, a, b) }()

	first := <-errCh
	a.Close()
	b.Close()
	<-errCh // wait for the other direction to unblock and exit

	return first
}

// pipe copies from src to dst until src is closed, src errors, or ctx is
// cancelled. Reads are bounded by pollInterval so cancellation is observed
// even when src has nothing to offer.
func pipe(ctx context.Context, dst, src net.Conn) error {
	buf := make([]byte, bufSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = src.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
	}
}

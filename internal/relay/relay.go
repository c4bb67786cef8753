// Package relay implements the Geo-Relay daemon: a rendezvous server that
// pairs inbound authenticated client sessions (from Client-Gateways) with a
// pool of persistent, pre-established reverse connections from Producers.
//
// Each accepted connection — Producer or client — gets exactly one owning
// goroutine for its entire lifetime, which both detects the idle-pooled
// disconnect case and forwards data to its paired peer once one exists.
// This keeps every socket read by exactly one goroutine at all times, so a
// Producer transitioning from "idle in the pool" to "paired with a client"
// never races a second reader against the first.
package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetproxy/geoproxy/internal/auth"
	"github.com/skynetproxy/geoproxy/internal/netopt"
	"github.com/skynetproxy/geoproxy/internal/pool"
)

const (
	maxAPIKeyLen = 128
	bufSize      = 1024
	pollInterval = 500 * time.Millisecond
)

// errPooledProducerSentData marks the protocol violation of a pooled
// Producer sending bytes before it has been claimed by a client. The pool
// invariant requires a pooled connection to stay idle; any byte that
// arrives early is treated as a protocol violation, not data to forward.
var errPooledProducerSentData = errors.New("relay: producer sent data while pooled")

// pairing is one ClientPairing entry: the client and Producer connections
// joined for a single session.
type pairing struct {
	client, producer net.Conn
}

// Relay owns the Producer pool and the active client/producer pairings.
type Relay struct {
	ProducerAddr string
	ClientAddr   string
	Auth         auth.Service
	Log          zerolog.Logger

	producerPool *pool.ProducerPool

	mu          sync.Mutex
	nextSession atomic.Uint64
	pairings    map[uint64]pairing  // session ID -> pairing; the canonical ClientPairing table
	connSession map[net.Conn]uint64 // secondary index: owning connection -> its session ID

	activeSessions atomic.Int64
}

// New builds a Relay ready to run.
func New(producerAddr, clientAddr string, authSvc auth.Service, log zerolog.Logger) *Relay {
	return &Relay{
		ProducerAddr: producerAddr,
		ClientAddr:   clientAddr,
		Auth:         authSvc,
		Log:          log,
		producerPool: pool.New(),
		pairings:     make(map[uint64]pairing),
		connSession:  make(map[net.Conn]uint64),
	}
}

// PoolSize reports the number of idle Producers currently pooled.
func (r *Relay) PoolSize() int { return r.producerPool.Len() }

// PairingCount reports the number of active client<->producer sessions.
func (r *Relay) PairingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairings)
}

// Run starts both accept loops and blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	producerLn, err := netopt.Listen(ctx, r.ProducerAddr)
	if err != nil {
		return err
	}
	clientLn, err := netopt.Listen(ctx, r.ClientAddr)
	if err != nil {
		producerLn.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		producerLn.Close()
		clientLn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.acceptLoop(ctx, producerLn, r.handleProducer)
	}()
	go func() {
		defer wg.Done()
		r.acceptLoop(ctx, clientLn, r.handleClient)
	}()
	wg.Wait()
	return nil
}

func (r *Relay) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go handle(ctx, conn)
	}
}

// handleProducer performs the API-key handshake, pools the connection on
// success, then hands it to forwardLoop — which both detects a disconnect
// while idle and, once a client claims it, forwards bytes to that client.
func (r *Relay) handleProducer(ctx context.Context, conn net.Conn) {
	apiKey, err := readAPIKeyFrame(conn)
	if err != nil {
		r.Log.Warn().Err(err).Msg("producer sent malformed API-key frame")
		conn.Close()
		return
	}

	ok, err := r.Auth.LoginProducer(ctx, apiKey)
	if err != nil || !ok {
		conn.Write([]byte{0}) //nolint:errcheck // closing regardless
		conn.Close()
		r.Log.Warn().Msg("producer rejected: invalid API key")
		return
	}
	if _, err := conn.Write([]byte{1}); err != nil {
		conn.Close()
		return
	}

	r.producerPool.Push(conn)
	r.Log.Info().Int("pool_size", r.producerPool.Len()).Msg("producer pooled")

	r.forwardLoop(ctx, conn, true)
}

func readAPIKeyFrame(conn net.Conn) (string, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 || length > maxAPIKeyLen {
		return "", errors.New("relay: API key length out of range")
	}
	key := make([]byte, length)
	if _, err := io.ReadFull(conn, key); err != nil {
		return "", err
	}
	return string(key), nil
}

// handleClient pops a random Producer for the arriving client, mints a
// session ID for the pairing, and hands the client connection to
// forwardLoop.
func (r *Relay) handleClient(ctx context.Context, client net.Conn) {
	producer, ok := r.producerPool.PopRandom()
	if !ok {
		r.Log.Warn().Msg("No Producer available")
		client.Close()
		return
	}

	r.addPairing(client, producer)
	r.activeSessions.Add(1)
	defer r.activeSessions.Add(-1)

	r.Log.Info().Msg("client paired with producer")
	r.forwardLoop(ctx, client, false)
}

// forwardLoop is the single owning reader for conn for its entire life:
// while unpaired it only detects disconnect; once paired, every successful
// read is forwarded verbatim to the peer recorded against conn's session.
func (r *Relay) forwardLoop(ctx context.Context, conn net.Conn, isProducer bool) {
	buf := make([]byte, bufSize)
	var readErr error

loop:
	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
			break loop
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.Read(buf)
		if n > 0 {
			peer := r.lookupPeer(conn)
			if peer == nil {
				// A pooled Producer must stay idle until claimed. Data
				// arriving before pairing is a protocol violation: tear the
				// connection down instead of forwarding or dropping it.
				readErr = errPooledProducerSentData
				break loop
			}
			if _, werr := peer.Write(buf[:n]); werr != nil {
				readErr = werr
				break loop
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			readErr = err
			break loop
		}
	}

	r.teardown(conn, isProducer, readErr)
}

// lookupPeer returns conn's paired peer, or nil if conn has no pairing.
func (r *Relay) lookupPeer(conn net.Conn) net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.connSession[conn]
	if !ok {
		return nil
	}
	p := r.pairings[id]
	if p.client == conn {
		return p.producer
	}
	return p.client
}

// addPairing mints a fresh session ID and records the ClientPairing entry
// under it, per §9's re-architecture hint to key the pairing table by a
// stable session identifier rather than by connection identity.
func (r *Relay) addPairing(client, producer net.Conn) uint64 {
	id := r.nextSession.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairings[id] = pairing{client: client, producer: producer}
	r.connSession[client] = id
	r.connSession[producer] = id
	return id
}

// teardown runs when conn's forward loop exits. If conn was paired, the
// pairing is removed and the peer is closed too. If conn was only pooled
// (never claimed), it is removed from the pool. Either way conn itself is
// closed.
func (r *Relay) teardown(conn net.Conn, isProducer bool, cause error) {
	r.mu.Lock()
	id, paired := r.connSession[conn]
	var peerConn net.Conn
	if paired {
		p := r.pairings[id]
		if p.client == conn {
			peerConn = p.producer
		} else {
			peerConn = p.client
		}
		delete(r.connSession, conn)
		delete(r.connSession, peerConn)
		delete(r.pairings, id)
	}
	r.mu.Unlock()

	if paired {
		peerConn.Close()
		r.Log.Debug().Err(cause).Bool("is_producer", isProducer).Msg("session ended")
	} else if isProducer {
		if r.producerPool.Remove(conn) {
			if errors.Is(cause, errPooledProducerSentData) {
				r.Log.Warn().Int("pool_size", r.producerPool.Len()).Msg("producer sent data while pooled; treated as protocol violation")
			} else {
				r.Log.Info().Int("pool_size", r.producerPool.Len()).Msg("producer disconnected while pooled")
			}
		}
	}
	conn.Close()
}

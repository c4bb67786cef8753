// Package producer implements the Producer daemon: a pool of worker
// goroutines that each dial a Geo-Relay, perform the API-key handshake, then
// serve one SOCKS5 session to completion as a reverse-connecting exit node
// before reconnecting.
package producer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetproxy/geoproxy/internal/auth"
	"github.com/skynetproxy/geoproxy/internal/config"
	"github.com/skynetproxy/geoproxy/internal/netopt"
	"github.com/skynetproxy/geoproxy/internal/socks5"
)

const (
	handshakeDeadline = 10 * time.Second
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
)

// ErrAPIKeyRejected is returned by a worker's reconnect loop when the relay
// rejects its API key. Rejection is fatal: the key will never be accepted
// later without operator intervention, so the worker exits rather than
// retrying.
var ErrAPIKeyRejected = fmt.Errorf("producer: API key rejected by relay")

// Producer runs PoolSize worker goroutines against a single Geo-Relay.
type Producer struct {
	RelayAddr           string
	APIKey              string
	PoolSize            int
	EnforceGatewayCreds bool
	GatewayAuth         auth.Service // consulted when EnforceGatewayCreds is true
	Log                 zerolog.Logger
}

// New builds a Producer from a loaded ProducerConfig. When the config turns
// on EnforceGatewayCreds, the fixed "gateway"/"gateway" pair is validated
// through the same auth.Service seam used for end users and API keys,
// rather than a hardcoded string comparison.
func New(cfg *config.ProducerConfig, log zerolog.Logger) *Producer {
	p := &Producer{
		RelayAddr:           net.JoinHostPort(cfg.RelayHost, fmt.Sprint(cfg.RelayPort)),
		APIKey:              cfg.APIKey,
		PoolSize:            cfg.PoolSize,
		EnforceGatewayCreds: cfg.EnforceGatewayCreds,
		Log:                 log,
	}
	if cfg.EnforceGatewayCreds {
		p.GatewayAuth = auth.NewStaticService(map[string]string{"gateway": "gateway"}, nil)
	}
	return p
}

// Run starts PoolSize workers and blocks until ctx is cancelled or a worker
// hits a fatal error (API-key rejection), whichever comes first.
func (p *Producer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, p.PoolSize)
	var wg sync.WaitGroup
	wg.Add(p.PoolSize)
	for i := 0; i < p.PoolSize; i++ {
		go func(id int) {
			defer wg.Done()
			errCh <- p.workerLoop(ctx, id)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		<-done
		return nil
	case err := <-errCh:
		cancel()
		<-done
		return err
	}
}

// workerLoop reconnects forever, serving one SOCKS5 session per connection,
// until ctx is cancelled or the relay rejects this worker's API key.
func (p *Producer) workerLoop(ctx context.Context, id int) error {
	backoff := baseBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := netopt.Dialer(handshakeDeadline).DialContext(ctx, "tcp", p.RelayAddr)
		if err != nil {
			p.Log.Warn().Int("worker", id).Err(err).Msg("dial relay failed")
			if !sleepBackoff(ctx, &backoff) {
				return nil
			}
			continue
		}

		accepted, err := sendAPIKeyFrame(conn, p.APIKey)
		if err != nil {
			conn.Close()
			p.Log.Warn().Int("worker", id).Err(err).Msg("API-key handshake failed")
			if !sleepBackoff(ctx, &backoff) {
				return nil
			}
			continue
		}
		if !accepted {
			conn.Close()
			p.Log.Error().Int("worker", id).Msg("API key rejected by relay")
			return ErrAPIKeyRejected
		}

		backoff = baseBackoff
		p.serveSession(ctx, id, conn)
		if !sleepBackoff(ctx, &backoff) {
			return nil
		}
	}
}

func sendAPIKeyFrame(conn net.Conn, apiKey string) (bool, error) {
	frame := make([]byte, 4+len(apiKey))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(apiKey)))
	copy(frame[4:], apiKey)
	if _, err := conn.Write(frame); err != nil {
		return false, err
	}
	status := make([]byte, 1)
	if _, err := io.ReadFull(conn, status); err != nil {
		return false, err
	}
	return status[0] == 1, nil
}

// serveSession runs the inner SOCKS5 server role on an accepted relay
// connection: authenticate, read the CONNECT request, dial upstream, reply,
// then splice until either side closes.
func (p *Producer) serveSession(ctx context.Context, id int, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(handshakeDeadline))
	server := socks5.NewServerConn(conn)

	username, password, err := server.AuthHandshake()
	if err != nil {
		p.Log.Debug().Int("worker", id).Err(err).Msg("inner auth handshake failed")
		return
	}
	if !p.verifyInnerCredentials(ctx, username, password) {
		_ = server.RejectAuth()
		return
	}
	if err := server.CompleteAuthHandshake(); err != nil {
		return
	}

	cmd, address, port, err := server.GetRequest()
	if err != nil {
		p.Log.Debug().Int("worker", id).Err(err).Msg("inner request read failed")
		return
	}
	_ = cmd

	_ = conn.SetDeadline(time.Time{})

	upstream, err := server.SendReply(address, port)
	if err != nil {
		p.Log.Warn().Int("worker", id).Err(err).Str("target", address).Msg("upstream dial failed")
		return
	}
	defer upstream.Close()

	p.Log.Info().Int("worker", id).Str("target", fmt.Sprintf("%s:%d", address, port)).Msg("serving session")
	if err := server.Splice(ctx, upstream); err != nil {
		p.Log.Debug().Int("worker", id).Err(err).Msg("session ended")
	}
}

// verifyInnerCredentials is ceremonial by default: any credentials are
// accepted, and the Gateway's own "gateway"/"gateway" pair carries no trust
// decision at this hop. Setting EnforceGatewayCreds
// turns this into a real check, validated through GatewayAuth rather than a
// hardcoded string comparison — note this is the Producer's own check; the
// Relay never parses the inner handshake at all.
func (p *Producer) verifyInnerCredentials(ctx context.Context, username, password string) bool {
	if !p.EnforceGatewayCreds {
		return true
	}
	if p.GatewayAuth == nil {
		return false
	}
	ok, err := p.GatewayAuth.LoginClient(ctx, username, password)
	return err == nil && ok
}

// sleepBackoff waits for the current backoff duration (with jitter) or
// until ctx is cancelled, doubling backoff up to maxBackoff. It reports
// false if ctx was cancelled first.
func sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(*backoff) / 2 + 1))
	wait := *backoff + jitter

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return false
	}

	*backoff *= 2
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}
	return true
}

// Package gateway implements the Client-Gateway daemon: the public SOCKS5
// front door that authenticates end users, selects a country-specific
// Geo-Relay, re-authenticates as a SOCKS5 client of that relay, and splices
// the two sessions together transparently.
package gateway

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetproxy/geoproxy/internal/auth"
	"github.com/skynetproxy/geoproxy/internal/config"
	"github.com/skynetproxy/geoproxy/internal/netopt"
	"github.com/skynetproxy/geoproxy/internal/socks5"
)

const handshakeDeadline = 10 * time.Second

// Gateway is the Client-Gateway daemon.
type Gateway struct {
	ListenAddr      string
	DefaultCountry  string
	RelayClientPort int
	Relays          map[string]string // country code -> relay host/address
	Auth            auth.Service
	Log             zerolog.Logger

	mu       sync.Mutex
	sessions map[uint64]struct{ client, relay net.Conn }
	nextID   atomic.Uint64
}

// New builds a Gateway from a loaded GatewayConfig.
func New(cfg *config.GatewayConfig, authSvc auth.Service, log zerolog.Logger) *Gateway {
	relays := make(map[string]string, len(cfg.Relays))
	for _, r := range cfg.Relays {
		relays[r.Country] = r.Addr
	}
	return &Gateway{
		ListenAddr:      cfg.ListenAddr,
		DefaultCountry:  cfg.DefaultCountry,
		RelayClientPort: cfg.RelayClientPort,
		Relays:          relays,
		Auth:            authSvc,
		Log:             log,
		sessions:        make(map[uint64]struct{ client, relay net.Conn }),
	}
}

// ActiveSessions reports how many end-user<->relay pairs are currently live.
func (g *Gateway) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// SelectCountryRelay resolves a requested country code to a relay dial
// address, falling back to the configured default when the code is empty or
// unknown. An empty RelayDirectory is rejected at config-load time (see
// internal/config). The second result is false only when the default
// country itself has no entry; config loading does not check that.
func (g *Gateway) SelectCountryRelay(country string) (string, bool) {
	if country != "" {
		if addr, ok := g.Relays[country]; ok {
			return addr, true
		}
	}
	addr, ok := g.Relays[g.DefaultCountry]
	return addr, ok
}

// Run accepts end-user connections until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := netopt.Listen(ctx, g.ListenAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		go g.handleClient(ctx, conn)
	}
}

// handleClient drives one end-user session from handshake through splice.
func (g *Gateway) handleClient(ctx context.Context, client net.Conn) {
	_ = client.SetDeadline(time.Now().Add(handshakeDeadline))

	server := socks5.NewServerConn(client)
	username, password, err := server.AuthHandshake()
	if err != nil {
		g.Log.Debug().Err(err).Msg("end-user auth handshake failed")
		client.Close()
		return
	}

	ok, err := g.Auth.LoginClient(ctx, username, password)
	if err != nil || !ok {
		g.Log.Warn().Str("user", username).Msg("end-user rejected")
		_ = server.RejectAuth()
		client.Close()
		return
	}
	if err := server.CompleteAuthHandshake(); err != nil {
		client.Close()
		return
	}

	relayAddr, ok := g.SelectCountryRelay(countryFromUsername(username))
	if !ok {
		g.Log.Error().Msg("no relay configured for gateway")
		client.Close()
		return
	}

	dialer := netopt.Dialer(handshakeDeadline)
	relayConn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", relayAddr, g.RelayClientPort))
	if err != nil {
		g.Log.Warn().Err(err).Str("relay", relayAddr).Msg("could not reach relay")
		client.Close()
		return
	}
	_ = relayConn.SetDeadline(time.Now().Add(handshakeDeadline))

	rc := socks5.NewClientConn(relayConn)
	if err := rc.Greet(); err != nil {
		g.Log.Warn().Err(err).Msg("relay greet failed")
		relayConn.Close()
		client.Close()
		return
	}
	if err := rc.NegotiateMethod(); err != nil {
		g.Log.Warn().Err(err).Msg("relay method negotiation failed")
		relayConn.Close()
		client.Close()
		return
	}
	if err := rc.Authenticate("gateway", "gateway"); err != nil {
		g.Log.Warn().Err(err).Msg("relay authentication failed")
		relayConn.Close()
		client.Close()
		return
	}
	rc.MarkReady()

	_ = client.SetDeadline(time.Time{})
	_ = relayConn.SetDeadline(time.Time{})

	id := g.addSession(client, relayConn)
	defer g.removeSession(id)

	g.Log.Info().Str("user", username).Str("relay", relayAddr).Msg("session established")
	if err := server.Splice(ctx, relayConn); err != nil {
		g.Log.Debug().Err(err).Msg("session ended")
	}
}

func (g *Gateway) addSession(client, relay net.Conn) uint64 {
	id := g.nextID.Add(1)
	g.mu.Lock()
	g.sessions[id] = struct{ client, relay net.Conn }{client, relay}
	g.mu.Unlock()
	return id
}

func (g *Gateway) removeSession(id uint64) {
	g.mu.Lock()
	delete(g.sessions, id)
	g.mu.Unlock()
}

// countryFromUsername supports an optional "user@country" login convention
// so a single Client-Gateway deployment can still steer different end users
// toward different Geo-Relays; a bare username always falls back to the
// gateway's configured default country.
func countryFromUsername(username string) string {
	if idx := strings.LastIndexByte(username, '@'); idx >= 0 {
		return username[idx+1:]
	}
	return ""
}

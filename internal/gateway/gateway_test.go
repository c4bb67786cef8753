package gateway

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/skynetproxy/geoproxy/internal/auth"
	"github.com/skynetproxy/geoproxy/internal/config"
)

func newTestGateway() *Gateway {
	cfg := &config.GatewayConfig{
		ListenAddr:      ":0",
		DefaultCountry:  "it",
		RelayClientPort: 60000,
		Relays: []config.RelayDirectoryEntry{
			{Country: "it", Addr: "it.skynetproxy.com"},
			{Country: "us", Addr: "us.skynetproxy.com"},
		},
	}
	authSvc := auth.NewStaticService(map[string]string{"alice": "pw"}, nil)
	return New(cfg, authSvc, zerolog.Nop())
}

func TestSelectCountryRelayKnownCode(t *testing.T) {
	g := newTestGateway()
	addr, ok := g.SelectCountryRelay("us")
	if !ok || addr != "us.skynetproxy.com" {
		t.Fatalf("SelectCountryRelay(us) = (%q, %v), want (us.skynetproxy.com, true)", addr, ok)
	}
}

func TestSelectCountryRelayUnknownFallsBackToDefault(t *testing.T) {
	g := newTestGateway()
	addr, ok := g.SelectCountryRelay("zz")
	if !ok || addr != "it.skynetproxy.com" {
		t.Fatalf("SelectCountryRelay(zz) = (%q, %v), want (it.skynetproxy.com, true)", addr, ok)
	}
}

func TestSelectCountryRelayEmptyUsesDefault(t *testing.T) {
	g := newTestGateway()
	addr, ok := g.SelectCountryRelay("")
	if !ok || addr != "it.skynetproxy.com" {
		t.Fatalf("SelectCountryRelay(\"\") = (%q, %v), want (it.skynetproxy.com, true)", addr, ok)
	}
}

func TestCountryFromUsername(t *testing.T) {
	cases := map[string]string{
		"alice":         "",
		"alice@us":      "us",
		"bob.smith@it":  "it",
		"@us":           "us",
	}
	for user, want := range cases {
		if got := countryFromUsername(user); got != want {
			t.Errorf("countryFromUsername(%q) = %q, want %q", user, got, want)
		}
	}
}

func TestAddRemoveSessionTracksCount(t *testing.T) {
	g := newTestGateway()
	id := g.addSession(nil, nil)
	if g.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions() = %d, want 1", g.ActiveSessions())
	}
	g.removeSession(id)
	if g.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions() after removal = %d, want 0", g.ActiveSessions())
	}
}

// Package auth defines the credential-validation seam consumed by the
// Client-Gateway and Geo-Relay daemons. The real credential store — a
// database, an LDAP directory, a vault — is an external collaborator and
// out of scope; this package only carries the interface and a
// development-grade in-memory implementation for running the daemons
// standalone.
package auth

import "context"

// Service validates end-user credentials and Producer API keys. Both
// methods are synchronous and side-effect-free from a caller's perspective.
type Service interface {
	// LoginClient validates an end-user username/password pair.
	LoginClient(ctx context.Context, username, password string) (bool, error)
	// LoginProducer validates a Producer API key.
	LoginProducer(ctx context.Context, apiKey string) (bool, error)
}

// StaticService is a development-grade Service backed by a fixed set of
// credentials loaded from YAML configuration. It is never a production
// credential store — it exists so the three daemons can be exercised
// end-to-end without wiring a real AuthService.
type StaticService struct {
	clients   map[string]string // username -> password
	producers map[string]bool   // api key -> accepted
}

// NewStaticService builds a StaticService from a username/password map and a
// set of accepted API keys.
func NewStaticService(clients map[string]string, apiKeys []string) *StaticService {
	s := &StaticService{
		clients:   make(map[string]string, len(clients)),
		producers: make(map[string]bool, len(apiKeys)),
	}
	for u, p := range clients {
		s.clients[u] = p
	}
	for _, k := range apiKeys {
		s.producers[k] = true
	}
	return s
}

// LoginClient reports whether username/password matches a configured entry.
func (s *StaticService) LoginClient(_ context.Context, username, password string) (bool, error) {
	want, ok := s.clients[username]
	if !ok {
		return false, nil
	}
	return want == password, nil
}

// LoginProducer reports whether apiKey is one of the configured keys.
func (s *StaticService) LoginProducer(_ context.Context, apiKey string) (bool, error) {
	return s.producers[apiKey], nil
}

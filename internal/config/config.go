// Package config loads and validates the YAML configuration for each of the
// three geoproxy daemons, following the teacher proxy's LoadConfig shape:
// read file, unmarshal, validate, return actionable errors.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Logging controls the shared logging flags every daemon exposes.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (l *Logging) setDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

// ProducerConfig configures the Producer daemon.
type ProducerConfig struct {
	RelayHost           string  `yaml:"relayHost"`
	RelayPort           int     `yaml:"relayPort"`
	APIKey              string  `yaml:"apiKey"`
	PoolSize            int     `yaml:"poolSize"`
	EnforceGatewayCreds bool    `yaml:"enforceGatewayCreds"`
	Logging             Logging `yaml:"logging"`
}

// LoadProducerConfig reads and validates a Producer YAML config file.
func LoadProducerConfig(path string) (*ProducerConfig, error) {
	cfg := &ProducerConfig{RelayPort: 30000, PoolSize: 4}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.Logging.setDefaults()

	if cfg.RelayHost == "" {
		return nil, fmt.Errorf("config: 'relayHost' is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("config: 'apiKey' is required")
	}
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("config: 'poolSize' must be at least 1, got %d", cfg.PoolSize)
	}
	return cfg, nil
}

// RelayConfig configures the Geo-Relay daemon.
type RelayConfig struct {
	ProducerAddr    string   `yaml:"producerAddr"`
	ClientAddr      string   `yaml:"clientAddr"`
	ProducerAPIKeys []string `yaml:"producerApiKeys"`
	Logging         Logging  `yaml:"logging"`
}

// LoadRelayConfig reads and validates a Geo-Relay YAML config file.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cfg := &RelayConfig{ProducerAddr: ":30000", ClientAddr: ":60000"}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.Logging.setDefaults()

	if cfg.ProducerAddr == "" {
		return nil, fmt.Errorf("config: 'producerAddr' is required")
	}
	if cfg.ClientAddr == "" {
		return nil, fmt.Errorf("config: 'clientAddr' is required")
	}
	if cfg.ProducerAddr == cfg.ClientAddr {
		return nil, fmt.Errorf("config: 'producerAddr' and 'clientAddr' must differ")
	}
	return cfg, nil
}

// RelayDirectoryEntry maps a country code to a Geo-Relay dial address.
type RelayDirectoryEntry struct {
	Country string `yaml:"country"`
	Addr    string `yaml:"addr"`
}

// GatewayConfig configures the Client-Gateway daemon.
type GatewayConfig struct {
	ListenAddr      string                `yaml:"listenAddr"`
	DefaultCountry  string                `yaml:"defaultCountry"`
	RelayClientPort int                   `yaml:"relayClientPort"`
	Relays          []RelayDirectoryEntry `yaml:"relays"`
	ClientUsers     map[string]string     `yaml:"clientUsers"`
	Logging         Logging               `yaml:"logging"`
}

// LoadGatewayConfig reads and validates a Client-Gateway YAML config file.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	cfg := &GatewayConfig{ListenAddr: ":10000", RelayClientPort: 60000}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.Logging.setDefaults()

	if len(cfg.Relays) == 0 {
		return nil, fmt.Errorf("config: at least one entry in 'relays' is required")
	}
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = cfg.Relays[0].Country
	}
	seen := make(map[string]struct{}, len(cfg.Relays))
	for i, r := range cfg.Relays {
		if r.Country == "" {
			return nil, fmt.Errorf("config: relays[%d]: 'country' is required", i)
		}
		if r.Addr == "" {
			return nil, fmt.Errorf("config: relays[%d]: 'addr' is required", i)
		}
		if _, dup := seen[r.Country]; dup {
			return nil, fmt.Errorf("config: relays[%d]: duplicate country %q", i, r.Country)
		}
		seen[r.Country] = struct{}{}
	}
	return cfg, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

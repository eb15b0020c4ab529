package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/edgelink/gateway/pkg/security"
	"github.com/edgelink/gateway/pkg/tlsutil"
	"github.com/edgelink/gateway/wire"
)

// SubdeviceManagement mode, per the configuration file's
// subdeviceManagement field.
type SubdeviceManagement string

const (
	SubdeviceManagementPlatform SubdeviceManagement = "PLATFORM"
	SubdeviceManagementGateway  SubdeviceManagement = "GATEWAY"
)

// Generator selects the gateway's built-in reading generator, used when
// no physical sensor feed is wired up.
type Generator string

const (
	GeneratorRandom      Generator = "random"
	GeneratorIncremental Generator = "incremental"
)

// DefaultReadingsIntervalMs is used when the config file omits
// readingsInterval.
const DefaultReadingsIntervalMs = 1000

// Config is the gateway's startup configuration file: {key, password,
// platformMqttUri, localMqttUri, platformTrustStore?, keepAlive?,
// readingsInterval?, generator?, subdeviceManagement, manifest}.
type Config struct {
	Key                 string               `json:"key"`
	Password            string               `json:"password"`
	PlatformMqttUri     string               `json:"platformMqttUri"`
	LocalMqttUri        string               `json:"localMqttUri"`
	PlatformTrustStore  string               `json:"platformTrustStore,omitempty"`
	KeepAlive           bool                 `json:"keepAlive,omitempty"`
	ReadingsInterval    uint                 `json:"readingsInterval,omitempty"`
	Generator           Generator            `json:"generator,omitempty"`
	SubdeviceManagement SubdeviceManagement  `json:"subdeviceManagement"`
	Manifest            wire.DeviceTemplate  `json:"manifest"`
	DataDir             string               `json:"dataDir,omitempty"`
}

// Load reads, parses, defaults, and validates the configuration file at
// path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.ReadingsInterval == 0 {
		cfg.ReadingsInterval = DefaultReadingsIntervalMs
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration is complete and internally
// consistent.
func (c *Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("key is required")
	}
	if c.PlatformMqttUri == "" {
		return fmt.Errorf("platformMqttUri is required")
	}
	if c.LocalMqttUri == "" {
		return fmt.Errorf("localMqttUri is required")
	}
	switch c.SubdeviceManagement {
	case SubdeviceManagementPlatform, SubdeviceManagementGateway:
	default:
		return fmt.Errorf("subdeviceManagement must be %q or %q, got %q", SubdeviceManagementPlatform, SubdeviceManagementGateway, c.SubdeviceManagement)
	}
	switch c.Generator {
	case "", GeneratorRandom, GeneratorIncremental:
	default:
		return fmt.Errorf("generator must be %q or %q, got %q", GeneratorRandom, GeneratorIncremental, c.Generator)
	}
	if c.PlatformTrustStore != "" {
		if _, err := os.Stat(c.PlatformTrustStore); err != nil {
			return fmt.Errorf("platformTrustStore: %w", err)
		}
	}
	return nil
}

// PlatformTLSConfig builds the TLS client configuration for the
// platform broker connection. Returns (nil, nil) when no trust store is
// configured, leaving the broker to dial without TLS.
func (c *Config) PlatformTLSConfig() (*tls.Config, error) {
	if c.PlatformTrustStore == "" {
		return nil, nil
	}
	return tlsutil.LoadClientTLSConfig(security.ClientTLSConfig{
		CAFiles: []string{c.PlatformTrustStore},
	})
}

// Clone returns a deep copy of c via a JSON marshal/unmarshal round
// trip.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SafeConfig guards concurrent reads of a Config that may be updated at
// runtime (configuration propagation).
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg for concurrent access.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update validates cfg and, if valid, replaces the current
// configuration.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: cannot update with nil config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

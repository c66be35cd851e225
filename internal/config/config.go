// Package config handles loading, validating, and writing the proxycore
// configuration from ~/.proxycore/config.yaml.
//
// The config defines:
//   - Proxy listen address and body-capture cap
//   - CA cert/key paths and leaf certificate lifetime
//   - Whether the intercept coordinator is engaged on startup
//   - SQLite store location
//   - REST/WebSocket API bind address and allowed CORS origins
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level proxycore configuration.
type Config struct {
	Proxy     ProxyConfig     `yaml:"proxy"`
	CA        CAConfig        `yaml:"ca"`
	Intercept InterceptConfig `yaml:"intercept"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
}

// ProxyConfig defines where the intercepting proxy listens and how much
// of each body it buffers for recording.
type ProxyConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxBodyBytes caps bytes buffered and persisted per request/response
	// direction. Bytes beyond the cap still stream to their destination
	// but are not recorded; the overage is reported on the Flow.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// CAConfig controls root CA material and leaf certificate minting.
type CAConfig struct {
	CertPath    string `yaml:"certPath"`
	KeyPath     string `yaml:"keyPath"`
	LeafTTLDays int    `yaml:"leafTtlDays"`
	CacheSize   int    `yaml:"cacheSize"`
}

// InterceptConfig controls the intercept coordinator's default state.
type InterceptConfig struct {
	Enabled bool `yaml:"enabled"`
	// DecisionTimeoutSeconds auto-forwards a held flow after this many
	// seconds with no operator decision. 0 disables the deadline
	// entirely: the slot waits indefinitely for a decision or shutdown.
	DecisionTimeoutSeconds int `yaml:"decisionTimeoutSeconds"`
}

// StoreConfig points at the SQLite-backed persistence file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// APIConfig controls the REST/WebSocket facade.
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. Normal on first run before
			// the config directory has been initialized.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header. Used by first-run setup and `proxycore config
// edit` when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# proxycore configuration
#
# proxy:
#   host/port: Bind address for the intercepting proxy (default: 127.0.0.1:8080)
#   maxBodyBytes: Cap on buffered/recorded body bytes per direction
#
# ca:
#   certPath/keyPath: Root CA material, generated on first run if absent
#   leafTtlDays: Lifetime of per-host leaf certificates
#   cacheSize: Leaf certificate LRU cache size
#
# intercept:
#   enabled: Whether flows pause for a manual decision by default
#   decisionTimeoutSeconds: Auto-forward timeout for a pending decision,
#     0 disables the deadline (wait for an operator or shutdown)
#
# store:
#   path: SQLite database file for flows, rules, attacks, sessions, scans
#
# api:
#   host/port: Bind address for the REST/WebSocket facade
#   allowedOrigins: CORS allow-list for the facade

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	home := defaultHome()
	return &Config{
		Proxy: ProxyConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			MaxBodyBytes: 10 * 1024 * 1024,
		},
		CA: CAConfig{
			CertPath:    filepath.Join(home, "ca.pem"),
			KeyPath:     filepath.Join(home, "ca-key.pem"),
			LeafTTLDays: 825,
			CacheSize:   1024,
		},
		Intercept: InterceptConfig{
			Enabled: false,
			// 0 means no auto-forward deadline: a held flow waits for an
			// operator decision or shutdown, matching the "operator-driven,
			// no timeout" intercept slot model.
			DecisionTimeoutSeconds: 0,
		},
		Store: StoreConfig{
			Path: filepath.Join(home, "proxycore.db"),
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8081,
			AllowedOrigins: []string{"http://127.0.0.1:8081"},
		},
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxycore"
	}
	return filepath.Join(home, ".proxycore")
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Proxy.Host == "" {
		return fmt.Errorf("proxy.host must not be empty")
	}
	if cfg.Proxy.Port < 1 || cfg.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port %d out of range (1-65535)", cfg.Proxy.Port)
	}
	if cfg.Proxy.MaxBodyBytes < 0 {
		return fmt.Errorf("proxy.maxBodyBytes must be non-negative")
	}
	if cfg.CA.LeafTTLDays < 1 {
		return fmt.Errorf("ca.leafTtlDays must be at least 1")
	}
	if cfg.CA.CacheSize < 1 {
		return fmt.Errorf("ca.cacheSize must be at least 1")
	}
	if cfg.Intercept.DecisionTimeoutSeconds < 0 {
		return fmt.Errorf("intercept.decisionTimeoutSeconds must be non-negative (0 disables the deadline)")
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range (1-65535)", cfg.API.Port)
	}
	return nil
}

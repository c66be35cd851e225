package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	if cfg.Proxy.Host != "127.0.0.1" {
		t.Errorf("default host: expected 127.0.0.1, got %q", cfg.Proxy.Host)
	}
	if cfg.Proxy.Port != 8080 {
		t.Errorf("default port: expected 8080, got %d", cfg.Proxy.Port)
	}
	if cfg.Proxy.MaxBodyBytes != 10*1024*1024 {
		t.Errorf("default maxBodyBytes: expected 10MiB, got %d", cfg.Proxy.MaxBodyBytes)
	}
	if cfg.CA.LeafTTLDays != 825 {
		t.Errorf("default leafTtlDays: expected 825, got %d", cfg.CA.LeafTTLDays)
	}
	if cfg.Intercept.DecisionTimeoutSeconds != 0 {
		t.Errorf("default decisionTimeoutSeconds: expected 0 (no deadline), got %d", cfg.Intercept.DecisionTimeoutSeconds)
	}
	if cfg.Intercept.Enabled {
		t.Error("default intercept.enabled: expected false")
	}
	if cfg.API.Port != 8081 {
		t.Errorf("default api port: expected 8081, got %d", cfg.API.Port)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
proxy:
  host: "0.0.0.0"
  port: 9090
  maxBodyBytes: 1024
intercept:
  enabled: true
  decisionTimeoutSeconds: 30
api:
  host: "0.0.0.0"
  port: 9091
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Proxy.Host != "0.0.0.0" {
		t.Errorf("host: expected 0.0.0.0, got %q", cfg.Proxy.Host)
	}
	if cfg.Proxy.Port != 9090 {
		t.Errorf("port: expected 9090, got %d", cfg.Proxy.Port)
	}
	if !cfg.Intercept.Enabled {
		t.Error("intercept.enabled: expected true")
	}
	if cfg.Intercept.DecisionTimeoutSeconds != 30 {
		t.Errorf("decisionTimeoutSeconds: expected 30, got %d", cfg.Intercept.DecisionTimeoutSeconds)
	}
	if cfg.API.Port != 9091 {
		t.Errorf("api port: expected 9091, got %d", cfg.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
proxy:
  port: 9090
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Proxy.Port != 9090 {
		t.Errorf("port: expected 9090, got %d", cfg.Proxy.Port)
	}
	// Host should retain default.
	if cfg.Proxy.Host != "127.0.0.1" {
		t.Errorf("host should be default 127.0.0.1, got %q", cfg.Proxy.Host)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid",
			cfg:     *applyDefaults(),
			wantErr: false,
		},
		{
			name: "empty host",
			cfg: Config{
				Proxy:     ProxyConfig{Host: "", Port: 8080},
				CA:        CAConfig{LeafTTLDays: 1, CacheSize: 1},
				Intercept: InterceptConfig{DecisionTimeoutSeconds: 1},
				API:       APIConfig{Port: 8081},
			},
			wantErr: true,
		},
		{
			name: "port 0",
			cfg: Config{
				Proxy:     ProxyConfig{Host: "127.0.0.1", Port: 0},
				CA:        CAConfig{LeafTTLDays: 1, CacheSize: 1},
				Intercept: InterceptConfig{DecisionTimeoutSeconds: 1},
				API:       APIConfig{Port: 8081},
			},
			wantErr: true,
		},
		{
			name: "port 65536",
			cfg: Config{
				Proxy:     ProxyConfig{Host: "127.0.0.1", Port: 65536},
				CA:        CAConfig{LeafTTLDays: 1, CacheSize: 1},
				Intercept: InterceptConfig{DecisionTimeoutSeconds: 1},
				API:       APIConfig{Port: 8081},
			},
			wantErr: true,
		},
		{
			name: "negative maxBodyBytes",
			cfg: Config{
				Proxy:     ProxyConfig{Host: "127.0.0.1", Port: 8080, MaxBodyBytes: -1},
				CA:        CAConfig{LeafTTLDays: 1, CacheSize: 1},
				Intercept: InterceptConfig{DecisionTimeoutSeconds: 1},
				API:       APIConfig{Port: 8081},
			},
			wantErr: true,
		},
		{
			name: "zero leaf ttl",
			cfg: Config{
				Proxy:     ProxyConfig{Host: "127.0.0.1", Port: 8080},
				CA:        CAConfig{LeafTTLDays: 0, CacheSize: 1},
				Intercept: InterceptConfig{DecisionTimeoutSeconds: 1},
				API:       APIConfig{Port: 8081},
			},
			wantErr: true,
		},
		{
			name: "zero decision timeout disables the deadline, not an error",
			cfg: Config{
				Proxy:     ProxyConfig{Host: "127.0.0.1", Port: 8080},
				CA:        CAConfig{LeafTTLDays: 1, CacheSize: 1},
				Intercept: InterceptConfig{DecisionTimeoutSeconds: 0},
				API:       APIConfig{Port: 8081},
			},
			wantErr: false,
		},
		{
			name: "negative decision timeout",
			cfg: Config{
				Proxy:     ProxyConfig{Host: "127.0.0.1", Port: 8080},
				CA:        CAConfig{LeafTTLDays: 1, CacheSize: 1},
				Intercept: InterceptConfig{DecisionTimeoutSeconds: -1},
				API:       APIConfig{Port: 8081},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&tt.cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteDefault_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}

	if cfg.Proxy.Port != 8080 {
		t.Errorf("roundtrip port: expected 8080, got %d", cfg.Proxy.Port)
	}
	if cfg.API.Port != 8081 {
		t.Errorf("roundtrip api port: expected 8081, got %d", cfg.API.Port)
	}
}

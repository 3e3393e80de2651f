package umbra

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

var testMasterKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.endpointURL() != cfg.Network.BaseURL {
		t.Fatalf("endpoint should default to the base url")
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"relative base url":   func(c *Config) { c.Network.BaseURL = "/api" },
		"init path":           func(c *Config) { c.Network.InitPath = "session/init" },
		"request timeout":     func(c *Config) { c.Network.RequestTimeout = 0 },
		"response cap":        func(c *Config) { c.Network.MaxResponseBytes = 0 },
		"endpoint scheme":     func(c *Config) { c.Pool.EndpointURL = "ws://x" },
		"ready timeout":       func(c *Config) { c.Pool.WorkerReadyTimeout = 0 },
		"step timeout":        func(c *Config) { c.Handshake.StepTimeout = -time.Second },
		"vault backend":       func(c *Config) { c.Vault.Backend = "badger" },
		"redis addr":          func(c *Config) { c.Vault.Backend = VaultRedis; c.Vault.MasterKey = testMasterKey },
		"persistent key":      func(c *Config) { c.Vault.Backend = VaultSQLite },
		"short master key":    func(c *Config) { c.Vault.MasterKey = base64.StdEncoding.EncodeToString([]byte("short")) },
		"master key encoding": func(c *Config) { c.Vault.MasterKey = "%%%" },
		"bearer ttl":          func(c *Config) { c.Bearer.TTL = -time.Second },
		"audit buffer":        func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
		"log level":           func(c *Config) { c.Logging.Level = "trace" },
		"log format":          func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: expected invalid configuration, got %v", name, err)
		}
	}
}

func TestConfigPersistentBackendWithKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vault.Backend = VaultSQLite
	cfg.Vault.MasterKey = testMasterKey
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})
	l.Info("hidden")
	l.Warn("shown", "state", "introduced")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"state":"introduced"`) {
		t.Fatalf("expected json record, got %s", out)
	}
}

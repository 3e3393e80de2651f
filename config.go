package umbra

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/umbra/vault"
)

// Config is the full client configuration. Build from DefaultConfig and
// override what you need.
type Config struct {
	Pool      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Handshake HandshakeConfig `mapstructure:"handshake" yaml:"handshake"`
	Vault     VaultConfig     `mapstructure:"vault" yaml:"vault"`
	Bearer    BearerConfig    `mapstructure:"bearer" yaml:"bearer"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

type PoolConfig struct {
	// EndpointURL is handed to every worker during its configure phase.
	// Empty means Network.BaseURL.
	EndpointURL        string        `mapstructure:"endpoint_url" yaml:"endpoint_url"`
	WorkerReadyTimeout time.Duration `mapstructure:"worker_ready_timeout" yaml:"worker_ready_timeout"`
}

type NetworkConfig struct {
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url"`
	InitPath         string        `mapstructure:"init_path" yaml:"init_path"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes" yaml:"max_response_bytes"`
}

type HandshakeConfig struct {
	// StepTimeout bounds each state transition. 0 disables it.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
}

// Vault backends.
const (
	VaultMemory = "memory"
	VaultRedis  = "redis"
	VaultSQLite = "sqlite"
)

type VaultConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	// MasterKey is the base64 (std, padded) 32-byte sealing key. Required
	// for persistent backends; the memory backend uses a per-process key
	// when it is empty.
	MasterKey   string        `mapstructure:"master_key" yaml:"master_key"`
	RedisAddr   string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl" yaml:"redis_ttl"`
	SQLitePath  string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type BearerConfig struct {
	// TTL of minted bearer tokens. 0 disables MintBearer.
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
}

type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" yaml:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full" yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled" yaml:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms" yaml:"enable_latency_histograms"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format"`
}

func DefaultConfig() Config {
	return Config{
		Pool: PoolConfig{
			WorkerReadyTimeout: 10 * time.Second,
		},
		Network: NetworkConfig{
			BaseURL:          "http://127.0.0.1:8080",
			InitPath:         "/session/init",
			RequestTimeout:   15 * time.Second,
			MaxResponseBytes: 1 << 20,
		},
		Handshake: HandshakeConfig{
			StepTimeout: 2 * time.Minute,
		},
		Vault: VaultConfig{
			Backend:     VaultMemory,
			RedisPrefix: "umbra",
			SQLitePath:  "umbra-vault.db",
		},
		Bearer: BearerConfig{
			TTL:    5 * time.Minute,
			Issuer: "umbra-client",
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate returns the first violation found, wrapped in ErrInvalidConfig
// and the configuration category.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w: %v", ErrConfiguration, ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Network
	if err := absoluteHTTP(c.Network.BaseURL); err != nil {
		return fmt.Errorf("network.base_url: %v", err)
	}
	if !strings.HasPrefix(c.Network.InitPath, "/") {
		return fmt.Errorf("network.init_path must start with /")
	}
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("network.request_timeout must be > 0")
	}
	if c.Network.MaxResponseBytes <= 0 {
		return fmt.Errorf("network.max_response_bytes must be > 0")
	}

	// Pool
	if c.Pool.EndpointURL != "" {
		if err := absoluteHTTP(c.Pool.EndpointURL); err != nil {
			return fmt.Errorf("pool.endpoint_url: %v", err)
		}
	}
	if c.Pool.WorkerReadyTimeout <= 0 {
		return fmt.Errorf("pool.worker_ready_timeout must be > 0")
	}

	// Handshake
	if c.Handshake.StepTimeout < 0 {
		return fmt.Errorf("handshake.step_timeout must be >= 0")
	}

	// Vault
	switch c.Vault.Backend {
	case VaultMemory:
	case VaultRedis:
		if c.Vault.RedisAddr == "" {
			return fmt.Errorf("vault.redis_addr is required for the redis backend")
		}
		if c.Vault.RedisTTL < 0 {
			return fmt.Errorf("vault.redis_ttl must be >= 0")
		}
	case VaultSQLite:
		if c.Vault.SQLitePath == "" {
			return fmt.Errorf("vault.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("vault.backend must be memory, redis or sqlite")
	}
	if c.Vault.Backend != VaultMemory && c.Vault.MasterKey == "" {
		return fmt.Errorf("vault.master_key is required for the %s backend", c.Vault.Backend)
	}
	if c.Vault.MasterKey != "" {
		key, err := decodeMasterKey(c.Vault.MasterKey)
		if err != nil {
			return err
		}
		clear(key)
	}

	// Bearer
	if c.Bearer.TTL < 0 {
		return fmt.Errorf("bearer.ttl must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit.buffer_size must be > 0 when audit is enabled")
	}

	// Logging
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	return nil
}

func absoluteHTTP(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func decodeMasterKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("vault.master_key is not valid base64")
	}
	if len(key) != vault.MasterKeySize {
		clear(key)
		return nil, fmt.Errorf("vault.master_key must decode to %d bytes", vault.MasterKeySize)
	}
	return key, nil
}

func (c *Config) endpointURL() string {
	if c.Pool.EndpointURL != "" {
		return c.Pool.EndpointURL
	}
	return c.Network.BaseURL
}

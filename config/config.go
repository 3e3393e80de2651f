package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrEthical07/umbra"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	fileName  = "umbra"
	envPrefix = "umbra"
)

// Config is the file layout of the umbra CLI.
type Config struct {
	Client umbra.Config `mapstructure:"client" yaml:"client"`
	Demo   DemoConfig   `mapstructure:"demo" yaml:"demo"`
}

// DemoConfig configures the serve-demo reference server.
type DemoConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// RedisAddr backs the init rate limiter; empty starts an in-process
	// miniredis.
	RedisAddr  string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RateWindow time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
	RateMax    int64         `mapstructure:"rate_max" yaml:"rate_max"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	SweepEvery time.Duration `mapstructure:"sweep_every" yaml:"sweep_every"`
}

// DefaultDemo returns the serve-demo defaults.
func DefaultDemo() DemoConfig {
	return DemoConfig{
		Listen:     "127.0.0.1:8080",
		RateWindow: 10 * time.Minute,
		RateMax:    32,
		SessionTTL: 300 * time.Second,
		SweepEvery: time.Minute,
	}
}

// Path returns the per-user config file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, "umbra", fileName+".yaml"), nil
}

// Defaults flattens DefaultConfig into viper keys. Every key must be
// present so environment variables can override it.
func Defaults() map[string]any {
	c := umbra.DefaultConfig()
	d := DefaultDemo()
	return map[string]any{
		"client.pool.endpoint_url":                 c.Pool.EndpointURL,
		"client.pool.worker_ready_timeout":         c.Pool.WorkerReadyTimeout,
		"client.network.base_url":                  c.Network.BaseURL,
		"client.network.init_path":                 c.Network.InitPath,
		"client.network.request_timeout":           c.Network.RequestTimeout,
		"client.network.max_response_bytes":        c.Network.MaxResponseBytes,
		"client.handshake.step_timeout":            c.Handshake.StepTimeout,
		"client.vault.backend":                     c.Vault.Backend,
		"client.vault.master_key":                  c.Vault.MasterKey,
		"client.vault.redis_addr":                  c.Vault.RedisAddr,
		"client.vault.redis_prefix":                c.Vault.RedisPrefix,
		"client.vault.redis_ttl":                   c.Vault.RedisTTL,
		"client.vault.sqlite_path":                 c.Vault.SQLitePath,
		"client.bearer.ttl":                        c.Bearer.TTL,
		"client.bearer.issuer":                     c.Bearer.Issuer,
		"client.bearer.audience":                   c.Bearer.Audience,
		"client.audit.enabled":                     c.Audit.Enabled,
		"client.audit.buffer_size":                 c.Audit.BufferSize,
		"client.audit.drop_if_full":                c.Audit.DropIfFull,
		"client.metrics.enabled":                   c.Metrics.Enabled,
		"client.metrics.enable_latency_histograms": c.Metrics.EnableLatencyHistograms,
		"client.logging.level":                     c.Logging.Level,
		"client.logging.format":                    c.Logging.Format,
		"demo.listen":                              d.Listen,
		"demo.redis_addr":                          d.RedisAddr,
		"demo.rate_window":                         d.RateWindow,
		"demo.rate_max":                            d.RateMax,
		"demo.session_ttl":                         d.SessionTTL,
		"demo.sweep_every":                         d.SweepEvery,
	}
}

// Load reads defaults, then the config file (explicit path, user config
// dir or working directory), then UMBRA_* environment variables, then the
// command flags named in flagKeys (flag name to config key). Only a file
// missing from the search paths is tolerated; an explicit path must exist.
func Load[T any](cmd *cobra.Command, defaults map[string]any, path string, flagKeys map[string]string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	if userPath, err := Path(); err == nil {
		v.AddConfigPath(filepath.Dir(userPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for flag, key := range flagKeys {
			f := cmd.Flags().Lookup(flag)
			if f == nil {
				return c, fmt.Errorf("bind flag %q: no such flag", flag)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return c, fmt.Errorf("bind flag %q: %w", flag, err)
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// WriteFile writes c as yaml to path, creating the directory. The file
// may hold the vault master key, so it is private to the user.
func WriteFile[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return os.WriteFile(path, data, 0o600)
}

package umbra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/fault"
	"github.com/MrEthical07/umbra/handshake"
	"github.com/MrEthical07/umbra/internal/audit"
	"github.com/MrEthical07/umbra/jwt"
	"github.com/MrEthical07/umbra/pool"
	"github.com/MrEthical07/umbra/vault"
	"github.com/MrEthical07/umbra/worker"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Client. A Builder is single use.
type Builder struct {
	config Config

	store     vault.Store
	redis     redis.UniversalClient
	factory   worker.EngineFactory
	transport handshake.Transport
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore replaces the vault backend selected by Config.Vault.
func (b *Builder) WithStore(store vault.Store) *Builder {
	b.store = store
	return b
}

// WithRedis supplies the client used by the redis vault backend instead of
// dialing Config.Vault.RedisAddr. The caller keeps ownership.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithEngineFactory sets how workers obtain their engine. The default is
// cryptoengine.New().
func (b *Builder) WithEngineFactory(f worker.EngineFactory) *Builder {
	b.factory = f
	return b
}

// WithTransport replaces the HTTP transport built from Config.Network.
func (b *Builder) WithTransport(t handshake.Transport) *Builder {
	b.transport = t
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, opens the vault, starts the worker
// pool and restores an already established session if the vault holds one.
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	if b.built {
		return nil, fault.Tag(fault.ErrConfiguration, ErrBuilderUsed)
	}
	b.built = true

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		config:  cfg,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}
	obs := &clientObserver{c: c}

	store := b.store
	if store == nil {
		var err error
		store, err = b.openStore(ctx, &cfg, c)
		if err != nil {
			c.closeResources()
			return nil, err
		}
	}

	transport := b.transport
	if transport == nil {
		t, err := handshake.NewHTTPTransport(cfg.Network.BaseURL, handshake.HTTPOptions{
			InitPath:         cfg.Network.InitPath,
			Timeout:          cfg.Network.RequestTimeout,
			MaxResponseBytes: cfg.Network.MaxResponseBytes,
		})
		if err != nil {
			c.closeResources()
			return nil, err
		}
		transport = t
	}

	if cfg.Bearer.TTL > 0 {
		m, err := jwt.NewManager(jwt.Config{
			TTL:      cfg.Bearer.TTL,
			Issuer:   cfg.Bearer.Issuer,
			Audience: cfg.Bearer.Audience,
		})
		if err != nil {
			c.closeResources()
			return nil, fault.Tag(fault.ErrConfiguration, err)
		}
		c.bearer = m
	}

	factory := b.factory
	if factory == nil {
		factory = func() (cryptoengine.Engine, error) { return cryptoengine.New(), nil }
	}
	c.pool = pool.New(pool.Options{
		EndpointURL:  cfg.endpointURL(),
		ReadyTimeout: cfg.Pool.WorkerReadyTimeout,
		Factory:      factory,
		Logger:       logger.With("component", "pool"),
		Observer:     obs,
	})
	c.closers = append(c.closers, func() error { c.pool.Close(); return nil })

	hs, err := handshake.New(handshake.Options{
		Session:     handshake.NewSession(store),
		Runner:      c.pool,
		Transport:   transport,
		Logger:      logger.With("component", "handshake"),
		Observer:    obs,
		StepTimeout: cfg.Handshake.StepTimeout,
	})
	if err != nil {
		c.closeResources()
		return nil, err
	}
	c.handshake = hs

	if err := hs.Restore(ctx); err != nil {
		c.closeResources()
		return nil, err
	}
	logger.Info("client ready", "vault", cfg.Vault.Backend, "state", hs.State().String())
	return c, nil
}

func (b *Builder) openStore(ctx context.Context, cfg *Config, c *Client) (vault.Store, error) {
	sealer, err := newSealer(cfg.Vault)
	if err != nil {
		return nil, err
	}

	switch cfg.Vault.Backend {
	case VaultRedis:
		client := b.redis
		if client == nil {
			owned := redis.NewClient(&redis.Options{Addr: cfg.Vault.RedisAddr})
			c.closers = append(c.closers, owned.Close)
			client = owned
		}
		store := vault.NewRedisStore(client, cfg.Vault.RedisPrefix, cfg.Vault.RedisTTL, sealer)
		if _, err := store.Ping(ctx); err != nil {
			return nil, fault.Tag(fault.ErrConfiguration, err)
		}
		return store, nil
	case VaultSQLite:
		store, err := vault.OpenSQLStore(ctx, cfg.Vault.SQLitePath, sealer)
		if err != nil {
			return nil, fault.Tag(fault.ErrConfiguration, err)
		}
		c.closers = append(c.closers, store.Close)
		return store, nil
	default:
		return vault.NewMemoryStore(sealer), nil
	}
}

func newSealer(cfg VaultConfig) (*vault.Sealer, error) {
	if cfg.MasterKey == "" {
		s, err := vault.NewEphemeralSealer()
		if err != nil {
			return nil, fault.Tag(fault.ErrConfiguration, err)
		}
		return s, nil
	}
	key, err := decodeMasterKey(cfg.MasterKey)
	if err != nil {
		return nil, fault.Tag(fault.ErrConfiguration, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	s, err := vault.NewSealer(key)
	if err != nil {
		return nil, fault.Tag(fault.ErrConfiguration, errors.Join(ErrInvalidConfig, err))
	}
	return s, nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/umbra/internal/rate"
	"github.com/MrEthical07/umbra/internal/sessionserver"
	"github.com/MrEthical07/umbra/jwt"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownGrace = 5 * time.Second

func (a *app) newServeDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-demo",
		Short: "Run the reference session server",
		Long: `Serves /session/init, /session/pow and /session/whoami with sessions held
in memory. Init requests are counted per client in Redis; without
demo.redis_addr an in-process Redis is started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serveDemo(cmd.Context(), cmd)
		},
	}
}

func (a *app) serveDemo(ctx context.Context, cmd *cobra.Command) error {
	demo := a.cfg.Demo
	logger := a.logger.With("component", "sessionserver")

	client, cleanup, err := demoRedis(demo.RedisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	var bearer *jwt.Manager
	if b := a.cfg.Client.Bearer; b.TTL > 0 {
		bearer, err = jwt.NewManager(jwt.Config{TTL: b.TTL, Issuer: b.Issuer, Audience: b.Audience})
		if err != nil {
			return err
		}
	}

	srv := sessionserver.New(sessionserver.Options{
		Logger: logger,
		Limiter: rate.New(client, rate.Config{
			Prefix:      "umbra-demo",
			Window:      demo.RateWindow,
			MaxRequests: int(demo.RateMax),
		}),
		Bearer:       bearer,
		ExpiryOffset: demo.SessionTTL,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if demo.SweepEvery > 0 {
		srv.StartJanitor(ctx, demo.SweepEvery)
	}

	ln, err := net.Listen("tcp", demo.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", demo.Listen, err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	fmt.Fprintf(cmd.OutOrStdout(), "serving on http://%s\n", ln.Addr())
	logger.Info("session server started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownGrace)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("session server stopped")
	return nil
}

func demoRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start in-process redis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

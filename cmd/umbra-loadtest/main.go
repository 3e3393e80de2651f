package main

import (
	"context"
	"flag"
	"fmt"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/umbra"
	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/handshake"
	"github.com/MrEthical07/umbra/internal/rate"
	"github.com/MrEthical07/umbra/internal/sessionserver"
	"github.com/MrEthical07/umbra/jwt"
	"github.com/MrEthical07/umbra/vault"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var stretch = cryptoengine.StretchParams{Iterations: 1, MemoryMB: 1, Parallelism: 1}

type loadClient struct {
	id     int
	client *umbra.Client
	store  vault.Store
}

func main() {
	var (
		clients     = flag.Int("clients", 64, "number of client sessions to establish")
		concurrency = flag.Int("concurrency", 16, "number of concurrent handshakes")
		bearers     = flag.Int("bearers", 2000, "bearer tokens to mint after the handshake phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		rateMax     = flag.Int("rate-max", 1<<20, "init requests allowed per client address and window")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *bearers < 0 {
		fmt.Fprintln(os.Stderr, "clients and concurrency must be > 0, bearers >= 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	bearer, err := jwt.NewManager(jwt.Config{TTL: time.Minute, Issuer: "umbra-loadtest"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bearer manager: %v\n", err)
		os.Exit(1)
	}
	server := sessionserver.New(sessionserver.Options{
		Limiter:            rate.New(rdb, rate.Config{Prefix: "umbra-loadtest", MaxRequests: *rateMax}),
		Bearer:             bearer,
		Stretch:            stretch,
		PoWMemoryMB:        1,
		FixedPoWIterations: 1,
	})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	sealer, err := vault.NewEphemeralSealer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sealer: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("building %d clients...\n", *clients)
	pool := make([]*loadClient, *clients)
	for i := range pool {
		lc, err := newLoadClient(ctx, i, ts.URL, rdb, sealer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "client %d: %v\n", i, err)
			os.Exit(1)
		}
		pool[i] = lc
	}
	defer func() {
		for _, lc := range pool {
			_ = lc.client.Close()
		}
	}()

	handshakeStats := runHandshakePhase(ctx, server, pool, *concurrency)
	bearerStats := runBearerPhase(ctx, pool, *bearers, *concurrency)

	fmt.Println("---- results ----")
	printStats("handshake", handshakeStats)
	printStats("bearer", bearerStats)
}

func newLoadClient(ctx context.Context, id int, baseURL string, rdb redis.UniversalClient, sealer *vault.Sealer) (*loadClient, error) {
	store := vault.NewRedisStore(rdb, fmt.Sprintf("umbra-loadtest:%d", id), time.Hour, sealer)

	cfg := umbra.DefaultConfig()
	cfg.Network.BaseURL = baseURL
	cfg.Bearer.Issuer = "umbra-loadtest"
	cfg.Metrics.EnableLatencyHistograms = true

	c, err := umbra.New().
		WithConfig(cfg).
		WithStore(store).
		WithEngineFactory(func() (cryptoengine.Engine, error) {
			return cryptoengine.New(cryptoengine.WithCaptchaStretch(stretch)), nil
		}).
		Build(ctx)
	if err != nil {
		return nil, err
	}
	// Start from a clean record in case a previous run left one behind.
	if err := c.Logout(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &loadClient{id: id, client: c, store: store}, nil
}

// answerFromServer reads the pending session id from the client's vault and
// returns the answer the in-process server recorded for it.
func answerFromServer(server *sessionserver.Server, store vault.Store) handshake.AnswerFunc {
	return func(ctx context.Context, _ handshake.Challenge) (string, error) {
		sid, err := store.Get(ctx, handshake.SecretSessionID)
		if err != nil {
			return "", err
		}
		defer sid.Destroy()
		var answer string
		err = sid.Use(func(b []byte) error {
			rec, ok := server.Lookup(b)
			if !ok {
				return fmt.Errorf("server has no record for the pending session")
			}
			answer = rec.Answer
			return nil
		})
		return answer, err
	}
}

func runHandshakePhase(ctx context.Context, server *sessionserver.Server, pool []*loadClient, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(pool))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(pool) {
					return
				}
				lc := pool[i]
				t0 := time.Now()
				err := lc.client.Handshake(ctx, answerFromServer(server, lc.store))
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					fmt.Fprintf(os.Stderr, "client %d: %v\n", lc.id, err)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runBearerPhase(ctx context.Context, pool []*loadClient, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				lc := pool[i%len(pool)]
				t0 := time.Now()
				_, err := lc.client.MintBearer(ctx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

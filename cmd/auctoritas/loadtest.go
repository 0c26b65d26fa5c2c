package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/auctoritas/auctoritas"
	"github.com/auctoritas/auctoritas/secret"
	"github.com/auctoritas/auctoritas/store/memory"
	"github.com/auctoritas/auctoritas/tenant"
)

const loadTenant = "load"

type loadOptions struct {
	principals  int
	concurrency int
	ops         int
	throttle    bool
	redisAddr   string
}

// principalState is one seeded principal and its current refresh token.
type principalState struct {
	access  string
	refresh string
	mu      sync.Mutex
}

func newLoadtestCmd(_ *app) *cobra.Command {
	var opts loadOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure validate and refresh latency against an in-memory engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.principals <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("principals, concurrency and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.principals, "principals", 1000, "number of principals to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 20000, "operations per phase (validate + refresh)")
	cmd.Flags().BoolVar(&opts.throttle, "throttle", false, "route requests through the Redis throttle")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address for --throttle; miniredis when empty")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, opts loadOptions) error {
	engine, cleanup, err := newLoadEngine(out, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx = auctoritas.WithTenantID(ctx, loadTenant)
	states := make([]principalState, opts.principals)
	fmt.Fprintf(out, "seeding %d principals...\n", opts.principals)
	startSeed := time.Now()
	for i := range states {
		res, err := engine.Register(ctx, auctoritas.RegisterRequest{
			Email:    fmt.Sprintf("load-%d@example.com", i),
			Password: "load-test-password-1",
		})
		if err != nil {
			return fmt.Errorf("seed principal %d: %w", i, err)
		}
		states[i].access = res.Tokens.AccessToken
		states[i].refresh = res.Tokens.RefreshToken
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validate := runPhase(opts, func(r *mathrand.Rand) error {
		_, err := engine.ValidateAccessToken(ctx, states[r.Intn(len(states))].access)
		return err
	})
	refresh := runPhase(opts, func(r *mathrand.Rand) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := engine.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.refresh = res.Tokens.RefreshToken
		s.access = res.Tokens.AccessToken
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "validate", validate)
	printStats(out, "refresh", refresh)
	return nil
}

// newLoadEngine builds an engine over the memory store with cheap password
// hashing and an ephemeral signing key.
func newLoadEngine(out io.Writer, opts loadOptions) (*auctoritas.Engine, func(), error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	secretKey, err := secret.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	cipher, err := secret.New("load", map[string][]byte{"load": secretKey})
	if err != nil {
		return nil, nil, err
	}
	tenants, err := tenant.NewStatic(tenant.Settings{ID: loadTenant, Name: "Load test", MaxSessions: 1})
	if err != nil {
		return nil, nil, err
	}

	cfg := auctoritas.DefaultConfig()
	cfg.JWT.PrivateKey = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	b := auctoritas.New().WithStore(memory.New()).WithTenantDirectory(tenants).WithSecretCipher(cipher)
	if opts.throttle {
		unlimited := auctoritas.RateWindow{Max: 1 << 30, Period: time.Minute}
		cfg.Throttle.LoginPerIdentifier = unlimited
		cfg.Throttle.LoginPerIP = unlimited
		cfg.Throttle.RefreshPerIP = unlimited
		cfg.Throttle.RegisterPerIP = unlimited

		addr := opts.redisAddr
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, nil, fmt.Errorf("start miniredis: %w", err)
			}
			closers = append(closers, mr.Close)
			addr = mr.Addr()
			fmt.Fprintf(out, "using miniredis at %s\n", addr)
		} else {
			fmt.Fprintf(out, "using redis at %s\n", addr)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		closers = append(closers, func() { _ = client.Close() })
		b.WithRedis(client)
	}

	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, engine.Close)
	return engine, cleanup, nil
}

// runPhase spreads opts.ops calls of op over opts.concurrency workers.
func runPhase(opts loadOptions, op func(r *mathrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mathrand.New(mathrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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

// Command gatekeeper-loadtest seeds ready users and measures guard chain
// evaluation under concurrency.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zsportal/gatekeeper"
	"github.com/zsportal/gatekeeper/identity"
)

const seedPassword = "loadtest-password-1"

func main() {
	var (
		users       = flag.Int("users", 500, "number of users to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "navigations to evaluate")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	if err := run(*users, *concurrency, *ops, *redisAddr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(users, concurrency, ops int, addr string) error {
	ctx := context.Background()

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	cfg := gatekeeper.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("loadtest-secret-loadtest-secret-!")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.SignIn.MaxAttempts = 0
	cfg.SignIn.Cooldown = 0
	cfg.Verification.MaxRequests = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Account.AutoApprove = true

	gate, err := gatekeeper.New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		return fmt.Errorf("build gate: %w", err)
	}
	defer gate.Close()

	fmt.Printf("seeding %d users...\n", users)
	startSeed := time.Now()
	keys, err := seed(ctx, gate, users, concurrency)
	if err != nil {
		return err
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	routes := []gatekeeper.Route{
		{},
		{RequiredRoles: []string{identity.RoleUser}},
		{RequiredRoles: []string{identity.RoleAdmin}},
	}
	stats, kinds, err := runEvaluatePhase(ctx, gate, keys, routes, ops, concurrency)
	if err != nil {
		return err
	}

	fmt.Println("---- results ----")
	printStats("evaluate", stats)
	for k, n := range kinds {
		fmt.Printf("  %-28s %d\n", gatekeeper.Kind(k).String(), n)
	}
	fmt.Printf("active streams after run: %d\n", gate.ActiveStreams())
	return nil
}

// seed registers, verifies and signs in users. Every fifth user is left
// without a session to exercise the anonymous path.
func seed(ctx context.Context, gate *gatekeeper.Gate, users, concurrency int) ([]string, error) {
	keys := make([]string, users)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := 0; i < users; i++ {
		g.Go(func() error {
			if i%5 == 4 {
				return nil
			}
			email := fmt.Sprintf("user-%d@loadtest.example", i)
			userID, err := gate.Register(gctx, email, seedPassword)
			if err != nil {
				return fmt.Errorf("register %s: %w", email, err)
			}
			token, err := gate.RequestEmailVerification(gctx, userID)
			if err != nil {
				return fmt.Errorf("verification %s: %w", email, err)
			}
			if err := gate.ConfirmEmailVerification(gctx, token); err != nil {
				return fmt.Errorf("confirm %s: %w", email, err)
			}
			res, err := gate.SignIn(gctx, email, seedPassword)
			if err != nil {
				return fmt.Errorf("sign in %s: %w", email, err)
			}
			keys[i] = res.SessionKey
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

func runEvaluatePhase(
	ctx context.Context,
	gate *gatekeeper.Gate,
	keys []string,
	routes []gatekeeper.Route,
	ops, concurrency int,
) (phaseStats, map[uint8]int64, error) {
	var (
		cursor    int64
		latencies = make([]time.Duration, 0, ops)
		kinds     = make(map[uint8]int64)
		mu        sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return nil
				}
				t0 := time.Now()
				res := gate.Evaluate(gctx, gatekeeper.NavigationRequest{
					SessionKey: keys[r.Intn(len(keys))],
					Path:       "/reports",
					Route:      routes[r.Intn(len(routes))],
				})
				d := time.Since(t0)

				mu.Lock()
				latencies = append(latencies, d)
				kinds[uint8(res.Kind)]++
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, nil, err
	}
	return computeStats(time.Since(start), latencies), kinds, nil
}

type phaseStats struct {
	total   time.Duration
	ops     int
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	opsPerS float64
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
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

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

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

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/authtest"
	"github.com/MrEthical07/authflow/kv"
)

const newPassword = "LoadTestPass9!"

// step indexes the recovery operations timed per user.
type step int

const (
	stepRequest step = iota
	stepConfirm
	stepReset
	stepCount
)

var stepNames = [stepCount]string{"request", "confirm", "reset"}

func main() {
	var (
		users       = flag.Int("users", 2000, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "aflt", "persistent store key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "users and concurrency must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := kv.NewRedisStore(client, *prefix)

	var codes sync.Map
	srv := authtest.New(authtest.Config{
		OnCode: func(purpose authtest.Purpose, email, code string) {
			if purpose == authtest.PurposeReset {
				codes.Store(email, code)
			}
		},
	})
	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		srv.AddUser(authtest.User{Email: emailFor(i), Password: "SeedPassword1!", Verified: true})
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	ts := httptest.NewServer(srv)
	defer ts.Close()

	stats := runRecoveryPhase(ctx, ts.URL, store, &codes, *users, *concurrency)

	fmt.Println("---- results ----")
	for s := step(0); s < stepCount; s++ {
		printStats(stepNames[s], stats[s])
	}
}

// runRecoveryPhase drives one full recovery per account. Every account gets
// its own App and key prefix, so cooldown records never collide.
func runRecoveryPhase(
	ctx context.Context,
	baseURL string,
	store kv.Store,
	codes *sync.Map,
	users, concurrency int,
) [stepCount]phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  [stepCount]int64
		latencies [stepCount][]time.Duration
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= users {
					return
				}
				durations, failed, err := recoverAccount(ctx, baseURL, store, codes, i)
				if err != nil {
					atomic.AddInt64(&failures[failed], 1)
				}
				mu.Lock()
				for s := step(0); s < stepCount; s++ {
					if durations[s] > 0 {
						latencies[s] = append(latencies[s], durations[s])
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	var out [stepCount]phaseStats
	for s := step(0); s < stepCount; s++ {
		out[s] = computeStats(total, latencies[s], failures[s])
	}
	return out
}

func recoverAccount(
	ctx context.Context,
	baseURL string,
	store kv.Store,
	codes *sync.Map,
	i int,
) ([stepCount]time.Duration, step, error) {
	var durations [stepCount]time.Duration

	client, err := apiclient.New(apiclient.Config{BaseURL: baseURL})
	if err != nil {
		return durations, stepRequest, err
	}
	cfg := authflow.DefaultConfig()
	cfg.Storage.KeyPrefix = fmt.Sprintf("u%d", i)
	app, err := authflow.New().
		WithConfig(cfg).
		WithAPI(client).
		WithPersistentStore(store).
		Build()
	if err != nil {
		return durations, stepRequest, err
	}
	defer app.Close()

	flow, err := app.NewRecovery()
	if err != nil {
		return durations, stepRequest, err
	}
	defer flow.Close()

	email := emailFor(i)
	t0 := time.Now()
	if _, err := flow.RequestCode(ctx, email); err != nil {
		return durations, stepRequest, err
	}
	durations[stepRequest] = time.Since(t0)

	code, ok := codes.Load(email)
	if !ok {
		return durations, stepConfirm, fmt.Errorf("no code issued for %s", email)
	}
	t0 = time.Now()
	if _, err := flow.ConfirmCode(ctx, code.(string), email); err != nil {
		return durations, stepConfirm, err
	}
	durations[stepConfirm] = time.Since(t0)

	t0 = time.Now()
	if _, err := flow.SubmitReset(ctx, newPassword, newPassword); err != nil {
		return durations, stepReset, err
	}
	durations[stepReset] = time.Since(t0)
	return durations, stepReset, nil
}

func emailFor(i int) string {
	return fmt.Sprintf("user%d@loadtest.example.com", i)
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
		return phaseStats{total: total, failures: failures}
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

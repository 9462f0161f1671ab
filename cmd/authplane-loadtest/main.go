// Command authplane-loadtest measures validate and refresh throughput
// against a locally built engine. It runs self-contained: miniredis for
// the counter cache, the in-memory store, and a stub user directory.
//
// Usage:
//
//	go run ./cmd/authplane-loadtest -sessions 500 -concurrency 64 -ops 20000
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

	authplane "github.com/vaultline/authplane"
	"github.com/vaultline/authplane/cryptobox"
	"github.com/vaultline/authplane/store/memory"
)

const (
	tenantID = int64(1)
	password = "load-test-password"
)

type sessionState struct {
	accessToken  string
	refreshToken string
	mu           sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 500, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (validate + refresh)")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	mr, err := miniredis.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
		os.Exit(1)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	cfg := authplane.DefaultConfig()
	cfg.JWT.Secret = []byte("authplane-loadtest-signing-key-0001")
	cfg.Crypto.MasterKey = []byte("authplane-loadtest-master-key-32")
	cfg.Metrics.Enabled = true
	// Cheapest valid argon2 parameters; this tool measures the token and
	// store paths, not the hasher.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	hasher, err := cryptobox.NewHasher(cfg.Password.Params())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher init failed: %v\n", err)
		os.Exit(1)
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}

	users := &singleUserDirectory{record: authplane.UserRecord{
		ID:           1,
		TenantID:     tenantID,
		Email:        "load@example.com",
		PasswordHash: hash,
	}}

	engine, err := authplane.New().
		WithConfig(cfg).
		WithStore(memory.New()).
		WithUserDirectory(users).
		WithRedis(rdb).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		result, err := engine.Login(ctx, tenantID, "load@example.com", password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed login failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = sessionState{accessToken: result.AccessToken, refreshToken: result.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
}

func runValidatePhase(ctx context.Context, engine *authplane.Engine, states []sessionState, ops, concurrency int) phaseStats {
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
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				_, err := engine.Validate(ctx, tenantID, states[idx].accessToken)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runRefreshPhase(ctx context.Context, engine *authplane.Engine, states []sessionState, ops, concurrency int) phaseStats {
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
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				state := &states[idx]

				// Per-session lock so workers never present the same
				// refresh token twice; that would trip replay detection.
				state.mu.Lock()
				t0 := time.Now()
				pair, err := engine.Refresh(ctx, tenantID, state.refreshToken)
				d := time.Since(t0)
				if err == nil {
					state.refreshToken = pair.RefreshToken
					state.accessToken = pair.AccessToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
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

type singleUserDirectory struct {
	mu     sync.RWMutex
	record authplane.UserRecord
}

func (d *singleUserDirectory) GetByEmail(_ context.Context, tenantID int64, email string) (*authplane.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.record.TenantID != tenantID || d.record.Email != email {
		return nil, fmt.Errorf("user not found")
	}
	out := d.record
	return &out, nil
}

func (d *singleUserDirectory) GetByID(_ context.Context, userID int64) (*authplane.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.record.ID != userID {
		return nil, fmt.Errorf("user not found")
	}
	out := d.record
	return &out, nil
}

func (d *singleUserDirectory) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.record.ID != userID {
		return fmt.Errorf("user not found")
	}
	d.record.PasswordHash = hash
	return nil
}

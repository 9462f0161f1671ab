package authplane

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vaultline/authplane/cryptobox"
	"github.com/vaultline/authplane/store/memory"
)

const (
	testTenant      = int64(1)
	otherTenant     = int64(2)
	testEmail       = "alice@example.com"
	testPassword    = "correct-horse-battery"
	anotherPassword = "staple-gun-tuesday"
)

// testClock is a mutable time source shared between test and engine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testDirectory is an in-memory UserDirectory.
type testDirectory struct {
	mu      sync.RWMutex
	byID    map[int64]UserRecord
	byEmail map[string]int64
	nextID  int64
}

func newTestDirectory() *testDirectory {
	return &testDirectory{
		byID:    make(map[int64]UserRecord),
		byEmail: make(map[string]int64),
	}
}

func (d *testDirectory) add(tenantID int64, email, passwordHash string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	u := UserRecord{ID: d.nextID, TenantID: tenantID, Email: email, PasswordHash: passwordHash}
	d.byID[u.ID] = u
	d.byEmail[email] = u.ID
	return u.ID
}

func (d *testDirectory) GetByEmail(_ context.Context, tenantID int64, email string) (*UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	u := d.byID[id]
	if u.TenantID != tenantID {
		return nil, fmt.Errorf("user not found")
	}
	return &u, nil
}

func (d *testDirectory) GetByID(_ context.Context, userID int64) (*UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[userID]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return &u, nil
}

func (d *testDirectory) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.PasswordHash = hash
	d.byID[userID] = u
	return nil
}

func (d *testDirectory) hashFor(userID int64) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byID[userID].PasswordHash
}

// testEnv bundles an engine with its fixtures.
type testEnv struct {
	engine *Engine
	store  *memory.Store
	users  *testDirectory
	clock  *testClock
	redis  *miniredis.Miniredis
	sink   *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Crypto.MasterKey = []byte("master-key-for-tests-0123456789a")
	cfg.Metrics.Enabled = true
	// Cheapest valid argon2 parameters; tests hash a lot.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

// newTestEnv builds an engine over the in-memory store with a seeded
// user and a live miniredis counter cache.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newTestClock()
	mem := memory.New()
	users := newTestDirectory()

	var sink *ChannelSink
	builder := New().
		WithConfig(cfg).
		WithStore(mem).
		WithUserDirectory(users).
		WithRedis(rdb).
		WithClock(clock.Now)
	if cfg.Audit.Enabled {
		sink = NewChannelSink(cfg.Audit.BufferSize)
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env := &testEnv{
		engine: engine,
		store:  mem,
		users:  users,
		clock:  clock,
		redis:  mr,
		sink:   sink,
	}
	env.seedUser(t, testTenant, testEmail, testPassword)
	return env
}

func (env *testEnv) seedUser(t *testing.T, tenantID int64, email, password string) int64 {
	t.Helper()
	hasher, err := cryptobox.NewHasher(testConfig().Password.Params())
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return env.users.add(tenantID, email, hash)
}

func (env *testEnv) login(t *testing.T) *LoginResult {
	t.Helper()
	result, err := env.engine.Login(context.Background(), testTenant, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return result
}

// failLogins runs n failed password attempts for the seeded user.
func (env *testEnv) failLogins(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := env.engine.Login(ctx, testTenant, testEmail, "wrong-password-value"); err == nil {
			t.Fatal("expected login failure")
		}
	}
}

// totpCodeAt derives the 6-digit SHA1 code for a base32 secret at the
// given instant, matching the default authenticator parameters.
func totpCodeAt(t *testing.T, secretBase32 string, now time.Time) string {
	t.Helper()
	return totpCodeDigitsAt(t, secretBase32, now, 6)
}

func totpCodeDigitsAt(t *testing.T, secretBase32 string, now time.Time, digits int) string {
	t.Helper()
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := now.Unix() / 30
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(counter))
	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, value%mod)
}

// enrollTOTP walks the seeded user through setup and enablement and
// returns the shared secret plus the issued recovery codes.
func (env *testEnv) enrollTOTP(t *testing.T, userID int64) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := env.engine.SetupTOTP(ctx, testTenant, userID)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	code := totpCodeAt(t, setup.Secret, env.clock.Now())
	recovery, err := env.engine.EnableTOTP(ctx, testTenant, userID, code)
	if err != nil {
		t.Fatalf("EnableTOTP failed: %v", err)
	}
	return setup.Secret, recovery
}

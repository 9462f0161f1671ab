package authplane

import (
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultline/authplane/cryptobox"
	internalaudit "github.com/vaultline/authplane/internal/audit"
	"github.com/vaultline/authplane/internal/bruteforce"
	"github.com/vaultline/authplane/internal/mfa"
	"github.com/vaultline/authplane/store"
	"github.com/vaultline/authplane/token"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config

	store store.Store
	users UserDirectory
	redis redis.UniversalClient

	auditSink AuditSink
	nowFn     func() time.Time

	built bool
}

// New returns a [Builder] seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the backing store for sessions, tokens, attempts, and
// MFA state.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithUserDirectory connects the engine to the caller's user database.
func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.users = dir
	return b
}

// WithRedis attaches an optional Redis client used as a brute-force
// counter cache and MFA verification budget. The engine works without
// it; the attempt store remains the source of truth either way.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the destination for audit events. Has no effect
// unless [AuditConfig].Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. Test hook.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.nowFn = now
	return b
}

// WithMetricsEnabled toggles the metrics counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. The returned
// Engine is safe for concurrent use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.users == nil {
		return nil, errors.New("user directory required")
	}

	now := b.nowFn
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		users:   b.users,
		metrics: NewMetrics(cfg.Metrics),
		nowFn:   now,
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	hasher, err := cryptobox.NewHasher(cfg.Password.Params())
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	sealer, err := cryptobox.NewSealer(cfg.Crypto.MasterKey)
	if err != nil {
		return nil, err
	}
	engine.sealer = sealer

	tokens, err := token.NewManager(token.Config{
		Secret:        cloneBytes(cfg.JWT.Secret),
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		MFASessionTTL: cfg.JWT.MFASessionTTL,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	if cfg.TOTP.Enabled {
		engine.totp = mfa.NewTOTPManager(mfa.TOTPConfig{
			Issuer:    cfg.TOTP.Issuer,
			Digits:    cfg.TOTP.Digits,
			Period:    cfg.TOTP.Period,
			Algorithm: strings.ToUpper(cfg.TOTP.Algorithm),
			Skew:      cfg.TOTP.Skew,
		})
	}

	if b.redis != nil {
		engine.cache = bruteforce.NewCache(b.redis)
	}
	if cfg.BruteForce.Enabled {
		engine.guard = bruteforce.NewGuard(b.store, engine.cache, cfg.bruteForcePolicy(), now)
	}

	// A fixed-cost verification target for unknown identifiers so the
	// login failure path takes the same time either way.
	dummyHash, err := hasher.Hash("authplane-timing-equalizer")
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummyHash

	b.built = true

	return engine, nil
}

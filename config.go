package authplane

import (
	"errors"
	"strings"
	"time"

	"github.com/vaultline/authplane/cryptobox"
)

// Config defines the tunable behavior of the identity engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT        JWTConfig
	Crypto     CryptoConfig
	Password   PasswordConfig
	BruteForce BruteForceConfig
	TOTP       TOTPConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Cleanup    CleanupConfig
	Security   SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token issuance. Secret signs HS256 tokens and must
// be at least 32 bytes.
type JWTConfig struct {
	Secret        []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFASessionTTL time.Duration
	Leeway        time.Duration
}

/*
====================================
CRYPTO CONFIG
====================================
*/

// CryptoConfig controls encryption of stored secret material. MasterKey
// is stretched to the AES-256 key; it never appears in storage.
type CryptoConfig struct {
	MasterKey []byte
}

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// Params converts the config into hasher parameters.
func (p PasswordConfig) Params() cryptobox.PasswordParams {
	return cryptobox.PasswordParams{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	}
}

/*
====================================
BRUTE FORCE CONFIG
====================================
*/

// BruteForceConfig sets the escalation thresholds for the login guard.
// The two windows overlap and count failures independently.
type BruteForceConfig struct {
	Enabled          bool
	IdentifierWindow time.Duration
	IPWindow         time.Duration

	IdentifierCaptchaAt int
	IdentifierDelayAt   int
	IdentifierDelay     time.Duration
	IdentifierLockAt    int
	IdentifierLock      time.Duration
	IdentifierHardAt    int
	IdentifierHardLock  time.Duration
	IdentifierAlertAt   int

	IPCaptchaAt int
	IPDelayAt   int
	IPDelay     time.Duration
	IPBlockAt   int
	IPBlock     time.Duration
	IPHardAt    int
	IPHardBlock time.Duration
	IPAlertAt   int

	// CountMFAChallenge records a failed TOTP verification during login
	// as a login failure against the identifier window. On by default:
	// a bad code after a correct password is still a failed attempt.
	CountMFAChallenge bool
}

// TOTPConfig controls MFA enrollment and verification.
type TOTPConfig struct {
	Enabled              bool
	Issuer               string
	Digits               int
	Period               int
	Algorithm            string
	Skew                 int
	RecoveryCodeCount    int
	RecoveryCodeLength   int
	VerifyMaxPerMinute   int
	RecoveryMaxPerMinute int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the padded atomic counter set.
type MetricsConfig struct {
	Enabled bool
}

// CleanupConfig controls the background retention sweeper.
type CleanupConfig struct {
	Interval         time.Duration
	AttemptRetention time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-wide hardening switches.
type SecurityConfig struct {
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the development-grade defaults. Key material is
// deliberately absent; Build fails until the caller supplies it.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:        "authplane",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			MFASessionTTL: 5 * time.Minute,
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		BruteForce: BruteForceConfig{
			Enabled:          true,
			IdentifierWindow: 15 * time.Minute,
			IPWindow:         time.Hour,

			IdentifierCaptchaAt: 3,
			IdentifierDelayAt:   5,
			IdentifierDelay:     30 * time.Second,
			IdentifierLockAt:    10,
			IdentifierLock:      15 * time.Minute,
			IdentifierHardAt:    20,
			IdentifierHardLock:  time.Hour,
			IdentifierAlertAt:   50,

			IPCaptchaAt: 20,
			IPDelayAt:   50,
			IPDelay:     10 * time.Second,
			IPBlockAt:   100,
			IPBlock:     time.Hour,
			IPHardAt:    500,
			IPHardBlock: 24 * time.Hour,
			IPAlertAt:   500,

			CountMFAChallenge: true,
		},
		TOTP: TOTPConfig{
			Enabled:              true,
			Issuer:               "authplane",
			Digits:               6,
			Period:               30,
			Algorithm:            "SHA1",
			Skew:                 1,
			RecoveryCodeCount:    10,
			RecoveryCodeLength:   10,
			VerifyMaxPerMinute:   5,
			RecoveryMaxPerMinute: 3,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Cleanup: CleanupConfig{
			Interval:         time.Hour,
			AttemptRetention: 30 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			ProductionMode: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.Crypto.MasterKey = cloneBytes(cfg.Crypto.MasterKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// placeholder key material that must never reach production.
var placeholderKeys = []string{
	"changeme",
	"change-me",
	"secret",
	"insecure",
	"development",
	"test-secret",
}

func isPlaceholderKey(key []byte) bool {
	lowered := strings.ToLower(strings.TrimSpace(string(key)))
	for _, p := range placeholderKeys {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}

// Validate checks the configuration for internal consistency. In
// ProductionMode it fails closed: weak or placeholder key material is
// rejected rather than warned about.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT Secret must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.MFASessionTTL <= 0 {
		return errors.New("JWT MFASessionTTL must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Crypto
	if len(c.Crypto.MasterKey) < 16 {
		return errors.New("Crypto MasterKey must be at least 16 bytes")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Brute force
	if c.BruteForce.Enabled {
		if c.BruteForce.IdentifierWindow <= 0 {
			return errors.New("BruteForce IdentifierWindow must be > 0")
		}
		if c.BruteForce.IPWindow <= 0 {
			return errors.New("BruteForce IPWindow must be > 0")
		}
		if c.BruteForce.IdentifierCaptchaAt <= 0 {
			return errors.New("BruteForce IdentifierCaptchaAt must be > 0")
		}
		if c.BruteForce.IdentifierLockAt <= c.BruteForce.IdentifierDelayAt {
			return errors.New("BruteForce identifier thresholds must escalate")
		}
		if c.BruteForce.IPBlockAt <= c.BruteForce.IPDelayAt {
			return errors.New("BruteForce IP thresholds must escalate")
		}
	}

	// TOTP
	if c.TOTP.Enabled {
		if c.TOTP.Issuer == "" {
			return errors.New("TOTP Issuer is required when TOTP is enabled")
		}
		if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
			return errors.New("TOTP Digits must be 6 or 8")
		}
		if c.TOTP.Period < 15 {
			return errors.New("TOTP Period must be >= 15 seconds")
		}
		if c.TOTP.Skew < 0 {
			return errors.New("TOTP Skew must be >= 0")
		}
		if c.TOTP.RecoveryCodeCount <= 0 {
			return errors.New("TOTP RecoveryCodeCount must be > 0")
		}
		if c.TOTP.RecoveryCodeLength < 8 {
			return errors.New("TOTP RecoveryCodeLength must be >= 8")
		}
		if c.TOTP.VerifyMaxPerMinute <= 0 {
			return errors.New("TOTP VerifyMaxPerMinute must be > 0")
		}
		if c.TOTP.RecoveryMaxPerMinute <= 0 {
			return errors.New("TOTP RecoveryMaxPerMinute must be > 0")
		}
		switch strings.ToUpper(c.TOTP.Algorithm) {
		case "", "SHA1", "SHA256", "SHA512":
			// valid (empty treated as SHA1)
		default:
			return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Cleanup
	if c.Cleanup.Interval < 0 {
		return errors.New("Cleanup Interval must be >= 0")
	}
	if c.Cleanup.AttemptRetention <= 0 {
		return errors.New("Cleanup AttemptRetention must be > 0")
	}

	if c.Security.ProductionMode {
		if isPlaceholderKey(c.JWT.Secret) {
			return errors.New("ProductionMode rejects placeholder JWT Secret")
		}
		if isPlaceholderKey(c.Crypto.MasterKey) {
			return errors.New("ProductionMode rejects placeholder Crypto MasterKey")
		}
		if len(c.Crypto.MasterKey) < 32 {
			return errors.New("ProductionMode requires Crypto MasterKey >= 32 bytes")
		}
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if !c.BruteForce.Enabled {
			return errors.New("ProductionMode requires the brute-force guard")
		}
		if c.TOTP.Enabled && c.TOTP.Skew > 2 {
			return errors.New("ProductionMode requires TOTP Skew <= 2")
		}
	}

	return nil
}

func (c *Config) bruteForcePolicy() bruteForcePolicy {
	return bruteForcePolicy{
		IdentifierWindow: c.BruteForce.IdentifierWindow,
		IPWindow:         c.BruteForce.IPWindow,

		IdentifierCaptchaAt: c.BruteForce.IdentifierCaptchaAt,
		IdentifierDelayAt:   c.BruteForce.IdentifierDelayAt,
		IdentifierDelay:     c.BruteForce.IdentifierDelay,
		IdentifierLockAt:    c.BruteForce.IdentifierLockAt,
		IdentifierLock:      c.BruteForce.IdentifierLock,
		IdentifierHardAt:    c.BruteForce.IdentifierHardAt,
		IdentifierHardLock:  c.BruteForce.IdentifierHardLock,
		IdentifierAlertAt:   c.BruteForce.IdentifierAlertAt,

		IPCaptchaAt: c.BruteForce.IPCaptchaAt,
		IPDelayAt:   c.BruteForce.IPDelayAt,
		IPDelay:     c.BruteForce.IPDelay,
		IPBlockAt:   c.BruteForce.IPBlockAt,
		IPBlock:     c.BruteForce.IPBlock,
		IPHardAt:    c.BruteForce.IPHardAt,
		IPHardBlock: c.BruteForce.IPHardBlock,
		IPAlertAt:   c.BruteForce.IPAlertAt,
	}
}

package authplane

import (
	"strings"
	"testing"
	"time"

	"github.com/vaultline/authplane/store/memory"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Crypto.MasterKey = []byte("fedcba9876543210fedcba9876543210")
	return cfg
}

func TestDefaultConfigValidatesWithKeys(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestDefaultConfigRequiresKeyMaterial(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("defaults without key material must not validate")
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"short jwt secret", func(c *Config) { c.JWT.Secret = []byte("short") }, "JWT Secret"},
		{"zero access ttl", func(c *Config) { c.JWT.AccessTTL = 0 }, "AccessTTL"},
		{"zero refresh ttl", func(c *Config) { c.JWT.RefreshTTL = 0 }, "RefreshTTL"},
		{"zero mfa session ttl", func(c *Config) { c.JWT.MFASessionTTL = 0 }, "MFASessionTTL"},
		{"excessive leeway", func(c *Config) { c.JWT.Leeway = 5 * time.Minute }, "Leeway"},
		{"short master key", func(c *Config) { c.Crypto.MasterKey = []byte("tooshort") }, "MasterKey"},
		{"weak argon2 memory", func(c *Config) { c.Password.Memory = 1024 }, "Memory"},
		{"short salt", func(c *Config) { c.Password.SaltLength = 8 }, "SaltLength"},
		{"identifier thresholds inverted", func(c *Config) {
			c.BruteForce.IdentifierLockAt = c.BruteForce.IdentifierDelayAt
		}, "identifier thresholds"},
		{"ip thresholds inverted", func(c *Config) {
			c.BruteForce.IPBlockAt = c.BruteForce.IPDelayAt
		}, "IP thresholds"},
		{"totp without issuer", func(c *Config) { c.TOTP.Issuer = "" }, "Issuer"},
		{"totp odd digits", func(c *Config) { c.TOTP.Digits = 7 }, "Digits"},
		{"totp short period", func(c *Config) { c.TOTP.Period = 5 }, "Period"},
		{"totp bad algorithm", func(c *Config) { c.TOTP.Algorithm = "MD5" }, "Algorithm"},
		{"totp short recovery codes", func(c *Config) { c.TOTP.RecoveryCodeLength = 4 }, "RecoveryCodeLength"},
		{"audit zero buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, "BufferSize"},
		{"zero attempt retention", func(c *Config) { c.Cleanup.AttemptRetention = 0 }, "AttemptRetention"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted a broken config")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestProductionModeFailsClosed(t *testing.T) {
	base := func() Config {
		cfg := validTestConfig()
		cfg.Security.ProductionMode = true
		cfg.Password.Memory = 64 * 1024
		cfg.Password.Time = 2
		cfg.Password.KeyLength = 32
		return cfg
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("hardened config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"placeholder jwt secret", func(c *Config) {
			c.JWT.Secret = []byte("test-secret-test-secret-test-sec")
		}},
		{"placeholder master key", func(c *Config) {
			c.Crypto.MasterKey = []byte("changeme-changeme-changeme-chang")
		}},
		{"short master key", func(c *Config) {
			c.Crypto.MasterKey = []byte("fedcba9876543210")
		}},
		{"long access ttl", func(c *Config) { c.JWT.AccessTTL = time.Hour }},
		{"weak argon2", func(c *Config) { c.Password.Memory = 8 * 1024 }},
		{"guard disabled", func(c *Config) { c.BruteForce.Enabled = false }},
		{"wide totp skew", func(c *Config) { c.TOTP.Skew = 5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("ProductionMode accepted a weak config")
			}
		})
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	cfg := validTestConfig()

	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("Build without store must fail")
	}
	if _, err := New().WithConfig(cfg).WithStore(nil).WithUserDirectory(newTestDirectory()).Build(); err == nil {
		t.Fatal("Build with nil store must fail")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().
		WithConfig(validTestConfig()).
		WithStore(memory.New()).
		WithUserDirectory(newTestDirectory())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build on the same builder must fail")
	}
}

package authplane

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func (env *testEnv) seededUserID(t *testing.T) int64 {
	t.Helper()
	user, err := env.users.GetByEmail(context.Background(), testTenant, testEmail)
	if err != nil {
		t.Fatalf("seed lookup: %v", err)
	}
	return user.ID
}

func TestSetupAndEnableTOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)

	setup, err := env.engine.SetupTOTP(ctx, testTenant, userID)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("empty provisioning secret")
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI %q", setup.URI)
	}
	if !strings.Contains(setup.URI, setup.Secret) {
		t.Fatal("URI does not carry the secret")
	}

	// Enrollment is pending until a valid code confirms possession.
	login := env.login(t)
	if login.MFARequired {
		t.Fatal("pending enrollment must not gate login")
	}

	codes, err := env.engine.EnableTOTP(ctx, testTenant, userID, totpCodeAt(t, setup.Secret, env.clock.Now()))
	if err != nil {
		t.Fatalf("EnableTOTP failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("got %d recovery codes, want 10", len(codes))
	}

	if _, err := env.engine.SetupTOTP(ctx, testTenant, userID); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("second setup: got %v, want ErrMFAAlreadyEnabled", err)
	}
}

func TestEnableTOTPRejectsWrongCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)

	if _, err := env.engine.SetupTOTP(ctx, testTenant, userID); err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	if _, err := env.engine.EnableTOTP(ctx, testTenant, userID, "00000"); !errors.Is(err, ErrMFAInvalidCode) {
		t.Fatalf("got %v, want ErrMFAInvalidCode", err)
	}

	login := env.login(t)
	if login.MFARequired {
		t.Fatal("failed enablement must leave MFA off")
	}
}

func TestVerifyMFACompletesLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	secret, _ := env.enrollTOTP(t, userID)

	challenge := env.login(t)
	if !challenge.MFARequired {
		t.Fatal("expected an MFA challenge")
	}

	result, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, totpCodeAt(t, secret, env.clock.Now()))
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" || result.SessionID == "" {
		t.Fatalf("incomplete result: %+v", result)
	}
	if _, err := env.engine.Validate(ctx, testTenant, result.AccessToken); err != nil {
		t.Fatalf("Validate after MFA failed: %v", err)
	}
}

func TestVerifyMFARejectsWrongCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	env.enrollTOTP(t, userID)

	challenge := env.login(t)
	if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, "00000"); !errors.Is(err, ErrMFAInvalidCode) {
		t.Fatalf("got %v, want ErrMFAInvalidCode", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricMFAFailure] == 0 {
		t.Fatal("mfa failure counter not incremented")
	}
}

func TestVerifyMFATenantMismatch(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seededUserID(t)
	secret, _ := env.enrollTOTP(t, userID)

	challenge := env.login(t)
	code := totpCodeAt(t, secret, env.clock.Now())
	if _, err := env.engine.VerifyMFA(context.Background(), otherTenant, challenge.MFASessionToken, code); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("got %v, want ErrTenantMismatch", err)
	}
}

func TestVerifyMFARecoveryCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	_, recovery := env.enrollTOTP(t, userID)

	challenge := env.login(t)
	result, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, recovery[0])
	if err != nil {
		t.Fatalf("recovery code sign-in failed: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("no session opened")
	}

	// The code is burned; presenting it again is just a bad code.
	challenge = env.login(t)
	if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, recovery[0]); !errors.Is(err, ErrMFAInvalidCode) {
		t.Fatalf("reuse: got %v, want ErrMFAInvalidCode", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricRecoveryCodeUsed] != 1 {
		t.Fatalf("recovery code counter = %d, want 1", snap.Counters[MetricRecoveryCodeUsed])
	}
}

func TestVerifyMFAAttemptBudget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	env.enrollTOTP(t, userID)

	// Enablement consumed one slot of the shared budget; start the
	// window fresh so the limit below is exact.
	env.redis.FastForward(time.Minute + time.Second)

	challenge := env.login(t)
	for i := 0; i < 5; i++ {
		if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, "00000"); !errors.Is(err, ErrMFAInvalidCode) {
			t.Fatalf("attempt %d: got %v, want ErrMFAInvalidCode", i+1, err)
		}
	}
	if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, "00000"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("got %v, want ErrMFARateLimited", err)
	}
}

func TestDisableTOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	secret, _ := env.enrollTOTP(t, userID)

	if err := env.engine.DisableTOTP(ctx, testTenant, userID, "00000"); !errors.Is(err, ErrMFAInvalidCode) {
		t.Fatalf("wrong code: got %v, want ErrMFAInvalidCode", err)
	}
	if err := env.engine.DisableTOTP(ctx, testTenant, userID, totpCodeAt(t, secret, env.clock.Now())); err != nil {
		t.Fatalf("DisableTOTP failed: %v", err)
	}

	login := env.login(t)
	if login.MFARequired {
		t.Fatal("MFA still required after disable")
	}
}

func TestRegenerateRecoveryCodesInvalidatesOldSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	secret, old := env.enrollTOTP(t, userID)

	fresh, err := env.engine.RegenerateRecoveryCodes(ctx, testTenant, userID, totpCodeAt(t, secret, env.clock.Now()))
	if err != nil {
		t.Fatalf("RegenerateRecoveryCodes failed: %v", err)
	}
	if len(fresh) != 10 {
		t.Fatalf("got %d recovery codes, want 10", len(fresh))
	}

	challenge := env.login(t)
	if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, old[0]); !errors.Is(err, ErrMFAInvalidCode) {
		t.Fatalf("old code: got %v, want ErrMFAInvalidCode", err)
	}
	challenge = env.login(t)
	if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, fresh[0]); err != nil {
		t.Fatalf("fresh code sign-in failed: %v", err)
	}
}

func TestVerifyMFATOTPWinsWhenLengthsCollide(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.TOTP.Digits = 8
		cfg.TOTP.RecoveryCodeLength = 8
	})
	ctx := context.Background()
	userID := env.seededUserID(t)

	setup, err := env.engine.SetupTOTP(ctx, testTenant, userID)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	recovery, err := env.engine.EnableTOTP(ctx, testTenant, userID, totpCodeDigitsAt(t, setup.Secret, env.clock.Now(), 8))
	if err != nil {
		t.Fatalf("EnableTOTP failed: %v", err)
	}

	// An 8-digit code is the length of a recovery code too; it still
	// has to verify as TOTP.
	challenge := env.login(t)
	result, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, totpCodeDigitsAt(t, setup.Secret, env.clock.Now(), 8))
	if err != nil {
		t.Fatalf("valid TOTP code rejected: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("no session opened")
	}

	// Recovery codes keep working as the fallback.
	challenge = env.login(t)
	if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, recovery[0]); err != nil {
		t.Fatalf("recovery code sign-in failed: %v", err)
	}
}

func TestEnableTOTPAttemptBudget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)

	if _, err := env.engine.SetupTOTP(ctx, testTenant, userID); err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := env.engine.EnableTOTP(ctx, testTenant, userID, "00000"); !errors.Is(err, ErrMFAInvalidCode) {
			t.Fatalf("attempt %d: got %v, want ErrMFAInvalidCode", i+1, err)
		}
	}
	if _, err := env.engine.EnableTOTP(ctx, testTenant, userID, "00000"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("got %v, want ErrMFARateLimited", err)
	}
}

func TestDisableTOTPAttemptBudget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	env.enrollTOTP(t, userID)
	env.redis.FastForward(time.Minute + time.Second)

	for i := 0; i < 5; i++ {
		if err := env.engine.DisableTOTP(ctx, testTenant, userID, "00000"); !errors.Is(err, ErrMFAInvalidCode) {
			t.Fatalf("attempt %d: got %v, want ErrMFAInvalidCode", i+1, err)
		}
	}
	if err := env.engine.DisableTOTP(ctx, testTenant, userID, "00000"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("got %v, want ErrMFARateLimited", err)
	}
	// Regeneration draws from the same budget.
	if _, err := env.engine.RegenerateRecoveryCodes(ctx, testTenant, userID, "00000"); !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("regenerate: got %v, want ErrMFARateLimited", err)
	}
}

func TestVerifyMFAFailuresCountTowardThrottle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)
	env.enrollTOTP(t, userID)

	for i := 0; i < 3; i++ {
		challenge := env.login(t)
		if _, err := env.engine.VerifyMFA(ctx, testTenant, challenge.MFASessionToken, "00000"); !errors.Is(err, ErrMFAInvalidCode) {
			t.Fatalf("attempt %d: got %v, want ErrMFAInvalidCode", i+1, err)
		}
	}

	decision, err := env.engine.ThrottleStatus(ctx, testEmail)
	if err != nil {
		t.Fatalf("ThrottleStatus failed: %v", err)
	}
	if !decision.RequireCaptcha {
		t.Fatal("three bad codes must escalate the identifier to captcha")
	}
}

func TestMFAOperationsRequireEnrollment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)

	if _, err := env.engine.EnableTOTP(ctx, testTenant, userID, "123456"); !errors.Is(err, ErrMFANotConfigured) {
		t.Fatalf("EnableTOTP: got %v, want ErrMFANotConfigured", err)
	}
	if err := env.engine.DisableTOTP(ctx, testTenant, userID, "123456"); !errors.Is(err, ErrMFANotConfigured) {
		t.Fatalf("DisableTOTP: got %v, want ErrMFANotConfigured", err)
	}
	if _, err := env.engine.RegenerateRecoveryCodes(ctx, testTenant, userID, "123456"); !errors.Is(err, ErrMFANotConfigured) {
		t.Fatalf("RegenerateRecoveryCodes: got %v, want ErrMFANotConfigured", err)
	}
}

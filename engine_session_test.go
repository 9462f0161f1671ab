package authplane

import (
	"context"
	"errors"
	"testing"
)

func TestValidateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	login := env.login(t)

	if _, err := env.engine.Validate(ctx, testTenant, "not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: got %v, want ErrTokenInvalid", err)
	}
	if _, err := env.engine.Validate(ctx, testTenant, login.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token: got %v, want ErrTokenInvalid", err)
	}
	if _, err := env.engine.Validate(ctx, otherTenant, login.AccessToken); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("wrong tenant: got %v, want ErrTenantMismatch", err)
	}
	if _, err := env.engine.Validate(ctx, 0, login.AccessToken); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("zero tenant: got %v, want ErrMissingTenant", err)
	}
}

func TestLogoutRevokesSessionAndChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	login := env.login(t)

	if err := env.engine.Logout(ctx, testTenant, login.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := env.engine.Validate(ctx, testTenant, login.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("access after logout: got %v, want ErrSessionRevoked", err)
	}
	if _, err := env.engine.Refresh(ctx, testTenant, login.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh after logout: got %v, want ErrTokenInvalid", err)
	}
}

func TestLogoutUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.Logout(context.Background(), testTenant, "no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestLogoutTenantMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	login := env.login(t)

	if err := env.engine.Logout(ctx, otherTenant, login.SessionID); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("got %v, want ErrTenantMismatch", err)
	}
	// The session is untouched.
	if _, err := env.engine.Validate(ctx, testTenant, login.AccessToken); err != nil {
		t.Fatalf("Validate after cross-tenant logout attempt: %v", err)
	}
}

func TestLogoutEverywhereSparesCurrentSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)

	first := env.login(t)
	second := env.login(t)
	third := env.login(t)

	revoked, err := env.engine.LogoutEverywhere(ctx, testTenant, userID, second.SessionID)
	if err != nil {
		t.Fatalf("LogoutEverywhere failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked %d sessions, want 2", revoked)
	}

	if _, err := env.engine.Validate(ctx, testTenant, second.AccessToken); err != nil {
		t.Fatalf("kept session rejected: %v", err)
	}
	for _, other := range []*LoginResult{first, third} {
		if _, err := env.engine.Validate(ctx, testTenant, other.AccessToken); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("session %s: got %v, want ErrSessionRevoked", other.SessionID, err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)

	current := env.login(t)
	other := env.login(t)

	if err := env.engine.ChangePassword(ctx, testTenant, userID, current.SessionID, testPassword, anotherPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Every other session is cut loose; the changing one survives.
	if _, err := env.engine.Validate(ctx, testTenant, current.AccessToken); err != nil {
		t.Fatalf("current session rejected: %v", err)
	}
	if _, err := env.engine.Validate(ctx, testTenant, other.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("other session: got %v, want ErrSessionRevoked", err)
	}

	if _, err := env.engine.Login(ctx, testTenant, testEmail, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.engine.Login(ctx, testTenant, testEmail, anotherPassword); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestChangePasswordRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seededUserID(t)

	current := env.login(t)

	if err := env.engine.ChangePassword(ctx, testTenant, userID, current.SessionID, "wrong-old-pass", anotherPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong old password: got %v, want ErrInvalidCredentials", err)
	}
	if err := env.engine.ChangePassword(ctx, testTenant, userID, current.SessionID, testPassword, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("short new password: got %v, want ErrPasswordPolicy", err)
	}
	if err := env.engine.ChangePassword(ctx, otherTenant, userID, current.SessionID, testPassword, anotherPassword); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("wrong tenant: got %v, want ErrTenantMismatch", err)
	}

	// Nothing above may have rotated the hash.
	if _, err := env.engine.Login(ctx, testTenant, testEmail, testPassword); err != nil {
		t.Fatalf("original password rejected: %v", err)
	}
}

func TestRevokeToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	login := env.login(t)

	if err := env.engine.RevokeToken(ctx, testTenant, login.RefreshToken); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, testTenant, login.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh after revoke: got %v, want ErrTokenInvalid", err)
	}
	// Only the refresh token dies; the session and its access token
	// ride out their own lifetimes.
	if _, err := env.engine.Validate(ctx, testTenant, login.AccessToken); err != nil {
		t.Fatalf("access after token revoke: %v", err)
	}
}

func TestRevokeSessionAsAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	login := env.login(t)

	if err := env.engine.RevokeSession(ctx, testTenant, login.SessionID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if _, err := env.engine.Validate(ctx, testTenant, login.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("got %v, want ErrSessionRevoked", err)
	}
}

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vaultline/authplane/store"
)

func TestSessionRevokeIsIdempotentAndTerminal(t *testing.T) {
	ctx := context.Background()
	m := New()
	now := time.Now()

	s := &store.Session{ID: "s1", UserID: 1, TenantID: 1, CreatedAt: now, LastSeenAt: now}
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	first := now.Add(time.Minute)
	if err := m.RevokeSession(ctx, "s1", first); err != nil {
		t.Fatalf("RevokeSession error: %v", err)
	}
	if err := m.RevokeSession(ctx, "s1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("second RevokeSession error: %v", err)
	}

	got, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Fatalf("revoked_at changed after second revoke: %v", got.RevokedAt)
	}
}

func TestRevokeUserSessionsSkipsException(t *testing.T) {
	ctx := context.Background()
	m := New()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		if err := m.CreateSession(ctx, &store.Session{ID: id, UserID: 7, TenantID: 1, CreatedAt: now}); err != nil {
			t.Fatalf("CreateSession error: %v", err)
		}
	}

	revoked, err := m.RevokeUserSessions(ctx, 1, 7, "a", now)
	if err != nil {
		t.Fatalf("RevokeUserSessions error: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}

	a, _ := m.GetSession(ctx, "a")
	if a.Revoked() {
		t.Fatal("excluded session was revoked")
	}
}

func TestConsumeRefreshTokenSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := New()
	now := time.Now()

	tok := &store.RefreshToken{
		JTI:       "jti-1",
		SessionID: "s1",
		TokenHash: "h",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := m.CreateRefreshToken(ctx, tok); err != nil {
		t.Fatalf("CreateRefreshToken error: %v", err)
	}

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.ConsumeRefreshToken(ctx, "jti-1", time.Now())
			if err != nil {
				t.Errorf("ConsumeRefreshToken error: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestCreateRefreshTokenEnforcesOneLivePerSession(t *testing.T) {
	ctx := context.Background()
	m := New()
	now := time.Now()

	first := &store.RefreshToken{JTI: "a", SessionID: "s1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := m.CreateRefreshToken(ctx, first); err != nil {
		t.Fatalf("CreateRefreshToken error: %v", err)
	}

	second := &store.RefreshToken{JTI: "b", SessionID: "s1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := m.CreateRefreshToken(ctx, second); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("second live token: got %v, want ErrDuplicate", err)
	}

	// Consuming the first token frees the slot for the successor.
	if _, err := m.ConsumeRefreshToken(ctx, "a", now); err != nil {
		t.Fatalf("ConsumeRefreshToken error: %v", err)
	}
	if err := m.CreateRefreshToken(ctx, second); err != nil {
		t.Fatalf("successor insert after consume: %v", err)
	}
}

func TestFailureCountsRespectWindowAndSuccessRows(t *testing.T) {
	ctx := context.Background()
	m := New()
	now := time.Now()

	rows := []*store.LoginAttempt{
		{Identifier: "u@x.com", IP: "10.0.0.1", AttemptedAt: now.Add(-20 * time.Minute), Success: false},
		{Identifier: "u@x.com", IP: "10.0.0.1", AttemptedAt: now.Add(-10 * time.Minute), Success: false},
		{Identifier: "u@x.com", IP: "10.0.0.1", AttemptedAt: now.Add(-5 * time.Minute), Success: false},
		{Identifier: "u@x.com", IP: "10.0.0.1", AttemptedAt: now.Add(-time.Minute), Success: true},
	}
	for _, r := range rows {
		if err := m.RecordLoginAttempt(ctx, r); err != nil {
			t.Fatalf("RecordLoginAttempt error: %v", err)
		}
	}

	count, err := m.CountIdentifierFailures(ctx, "u@x.com", now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("CountIdentifierFailures error: %v", err)
	}
	if count != 2 {
		t.Fatalf("identifier failures = %d, want 2 (outside-window and success rows excluded)", count)
	}

	deleted, err := m.DeleteLoginAttemptsBefore(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("DeleteLoginAttemptsBefore error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}

func TestConsumeRecoveryCodeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := New()

	codes := []*store.MFARecoveryCode{
		{ID: "c1", UserID: 5, CodeHash: "hash1"},
		{ID: "c2", UserID: 5, CodeHash: "hash2"},
	}
	if err := m.ReplaceRecoveryCodes(ctx, 5, codes); err != nil {
		t.Fatalf("ReplaceRecoveryCodes error: %v", err)
	}

	won, err := m.ConsumeRecoveryCode(ctx, "c1", time.Now())
	if err != nil || !won {
		t.Fatalf("first consume: won=%v err=%v", won, err)
	}
	won, err = m.ConsumeRecoveryCode(ctx, "c1", time.Now())
	if err != nil {
		t.Fatalf("second consume error: %v", err)
	}
	if won {
		t.Fatal("recovery code consumed twice")
	}
}

func TestExpiryCleanupsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	m := New()
	now := time.Now()

	_ = m.CreateSession(ctx, &store.Session{ID: "s1", UserID: 1, TenantID: 1})
	_ = m.CreateRefreshToken(ctx, &store.RefreshToken{JTI: "old", SessionID: "s1", ExpiresAt: now.Add(-time.Hour)})
	_ = m.RevokeJTI(ctx, "dead", now.Add(-time.Minute), now)

	for i := 0; i < 2; i++ {
		want := int64(0)
		if i == 0 {
			want = 1
		}
		deleted, err := m.DeleteExpiredRefreshTokens(ctx, now)
		if err != nil || deleted != want {
			t.Fatalf("run %d: refresh deleted=%d err=%v, want %d", i, deleted, err, want)
		}
		deleted, err = m.DeleteExpiredRevocations(ctx, now)
		if err != nil || deleted != want {
			t.Fatalf("run %d: revocations deleted=%d err=%v, want %d", i, deleted, err, want)
		}
	}
}

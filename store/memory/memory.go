// Package memory is an in-process store.Store used by tests and the
// minimal example. It mirrors the conditional-write semantics of the
// Postgres implementation under a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vaultline/authplane/store"
)

// Store implements store.Store over plain maps. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	sessions      map[string]*store.Session
	refreshTokens map[string]*store.RefreshToken
	revocations   map[string]*store.RevokedToken
	attempts      []*store.LoginAttempt
	nextAttemptID int64
	mfaSecrets    map[int64]*store.MFASecret
	recoveryCodes map[string]*store.MFARecoveryCode
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:      make(map[string]*store.Session),
		refreshTokens: make(map[string]*store.RefreshToken),
		revocations:   make(map[string]*store.RevokedToken),
		mfaSecrets:    make(map[int64]*store.MFASecret),
		recoveryCodes: make(map[string]*store.MFARecoveryCode),
	}
}

func cloneSession(s *store.Session) *store.Session {
	out := *s
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		out.RevokedAt = &at
	}
	return &out
}

func cloneRefreshToken(t *store.RefreshToken) *store.RefreshToken {
	out := *t
	if t.UsedAt != nil {
		at := *t.UsedAt
		out.UsedAt = &at
	}
	return &out
}

func cloneRecoveryCode(c *store.MFARecoveryCode) *store.MFARecoveryCode {
	out := *c
	if c.UsedAt != nil {
		at := *c.UsedAt
		out.UsedAt = &at
	}
	return &out
}

// CreateSession implements store.SessionStore.
func (m *Store) CreateSession(_ context.Context, s *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return store.ErrDuplicate
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

// GetSession implements store.SessionStore.
func (m *Store) GetSession(_ context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(s), nil
}

// TouchSession implements store.SessionStore.
func (m *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.LastSeenAt = at
	return nil
}

// RevokeSession implements store.SessionStore.
func (m *Store) RevokeSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.RevokedAt == nil {
		revoked := at
		s.RevokedAt = &revoked
	}
	return nil
}

// RevokeUserSessions implements store.SessionStore.
func (m *Store) RevokeUserSessions(_ context.Context, tenantID, userID int64, exceptID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var revoked int64
	for _, s := range m.sessions {
		if s.TenantID != tenantID || s.UserID != userID || s.ID == exceptID || s.RevokedAt != nil {
			continue
		}
		ts := at
		s.RevokedAt = &ts
		revoked++
	}
	return revoked, nil
}

// ListUserSessions implements store.SessionStore.
func (m *Store) ListUserSessions(_ context.Context, tenantID, userID int64) ([]*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Session
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.UserID == userID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CreateRefreshToken implements store.RefreshTokenStore, enforcing the
// at-most-one-live-token-per-session constraint the way the Postgres
// partial unique index does.
func (m *Store) CreateRefreshToken(_ context.Context, t *store.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refreshTokens[t.JTI]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range m.refreshTokens {
		if existing.SessionID == t.SessionID && existing.UsedAt == nil {
			return store.ErrDuplicate
		}
	}
	m.refreshTokens[t.JTI] = cloneRefreshToken(t)
	return nil
}

// GetRefreshToken implements store.RefreshTokenStore.
func (m *Store) GetRefreshToken(_ context.Context, jti string) (*store.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.refreshTokens[jti]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRefreshToken(t), nil
}

// ConsumeRefreshToken implements store.RefreshTokenStore.
func (m *Store) ConsumeRefreshToken(_ context.Context, jti string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.refreshTokens[jti]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.UsedAt != nil {
		return false, nil
	}
	used := at
	t.UsedAt = &used
	return true, nil
}

// SetReplacedBy implements store.RefreshTokenStore.
func (m *Store) SetReplacedBy(_ context.Context, jti, successorJTI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.refreshTokens[jti]
	if !ok {
		return store.ErrNotFound
	}
	if t.ReplacedByJTI == "" {
		t.ReplacedByJTI = successorJTI
	}
	return nil
}

// ListSessionRefreshTokens implements store.RefreshTokenStore.
func (m *Store) ListSessionRefreshTokens(_ context.Context, sessionID string) ([]*store.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.RefreshToken
	for _, t := range m.refreshTokens {
		if t.SessionID == sessionID {
			out = append(out, cloneRefreshToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteExpiredRefreshTokens implements store.RefreshTokenStore.
func (m *Store) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for jti, t := range m.refreshTokens {
		if !t.ExpiresAt.After(now) {
			delete(m.refreshTokens, jti)
			deleted++
		}
	}
	return deleted, nil
}

// RevokeJTI implements store.RevocationStore.
func (m *Store) RevokeJTI(_ context.Context, jti string, tokenExpiresAt, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.revocations[jti]; ok {
		return nil
	}
	m.revocations[jti] = &store.RevokedToken{JTI: jti, ExpiresAt: tokenExpiresAt, RevokedAt: at}
	return nil
}

// IsJTIRevoked implements store.RevocationStore.
func (m *Store) IsJTIRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.revocations[jti]
	return ok, nil
}

// DeleteExpiredRevocations implements store.RevocationStore.
func (m *Store) DeleteExpiredRevocations(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for jti, r := range m.revocations {
		if !r.ExpiresAt.After(now) {
			delete(m.revocations, jti)
			deleted++
		}
	}
	return deleted, nil
}

// RecordLoginAttempt implements store.LoginAttemptStore.
func (m *Store) RecordLoginAttempt(_ context.Context, a *store.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAttemptID++
	row := *a
	row.ID = m.nextAttemptID
	m.attempts = append(m.attempts, &row)
	return nil
}

// CountIdentifierFailures implements store.LoginAttemptStore.
func (m *Store) CountIdentifierFailures(_ context.Context, identifier string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, a := range m.attempts {
		if !a.Success && a.Identifier == identifier && a.AttemptedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// CountIPFailures implements store.LoginAttemptStore.
func (m *Store) CountIPFailures(_ context.Context, ip string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, a := range m.attempts {
		if !a.Success && a.IP == ip && a.AttemptedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// DeleteLoginAttemptsBefore implements store.LoginAttemptStore.
func (m *Store) DeleteLoginAttemptsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*store.LoginAttempt
	var deleted int64
	for _, a := range m.attempts {
		if a.AttemptedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return deleted, nil
}

// GetMFASecret implements store.MFAStore.
func (m *Store) GetMFASecret(_ context.Context, userID int64) (*store.MFASecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.mfaSecrets[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *s
	return &out, nil
}

// SaveMFASecret implements store.MFAStore.
func (m *Store) SaveMFASecret(_ context.Context, s *store.MFASecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := *s
	m.mfaSecrets[s.UserID] = &row
	return nil
}

// MarkMFAEnabled implements store.MFAStore.
func (m *Store) MarkMFAEnabled(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.mfaSecrets[userID]
	if !ok {
		return store.ErrNotFound
	}
	s.Enabled = true
	return nil
}

// DeleteMFASecret implements store.MFAStore.
func (m *Store) DeleteMFASecret(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.mfaSecrets, userID)
	for id, c := range m.recoveryCodes {
		if c.UserID == userID {
			delete(m.recoveryCodes, id)
		}
	}
	return nil
}

// ReplaceRecoveryCodes implements store.MFAStore.
func (m *Store) ReplaceRecoveryCodes(_ context.Context, userID int64, codes []*store.MFARecoveryCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.recoveryCodes {
		if c.UserID == userID {
			delete(m.recoveryCodes, id)
		}
	}
	for _, c := range codes {
		m.recoveryCodes[c.ID] = cloneRecoveryCode(c)
	}
	return nil
}

// ListRecoveryCodes implements store.MFAStore.
func (m *Store) ListRecoveryCodes(_ context.Context, userID int64) ([]*store.MFARecoveryCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.MFARecoveryCode
	for _, c := range m.recoveryCodes {
		if c.UserID == userID {
			out = append(out, cloneRecoveryCode(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ConsumeRecoveryCode implements store.MFAStore.
func (m *Store) ConsumeRecoveryCode(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.recoveryCodes[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if c.UsedAt != nil {
		return false, nil
	}
	used := at
	c.UsedAt = &used
	return true, nil
}

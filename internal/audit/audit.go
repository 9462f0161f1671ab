package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event severities. Critical events mark security incidents such as
// refresh token replay; everything routine is info.
const (
	SeverityInfo     = "info"
	SeverityCritical = "critical"
)

// Event types emitted by the identity engine.
const (
	TypeLoginSuccess      = "login_success"
	TypeLoginFailure      = "login_failure"
	TypeLoginThrottled    = "login_throttled"
	TypeMFAChallenge      = "mfa_challenge"
	TypeMFAVerified       = "mfa_verified"
	TypeMFAFailure        = "mfa_failure"
	TypeMFAEnabled        = "mfa_enabled"
	TypeMFADisabled       = "mfa_disabled"
	TypeRecoveryCodeUsed  = "recovery_code_used"
	TypeTokenRefreshed    = "token_refreshed"
	TypeTokenReplay       = "token_replay_detected"
	TypeLogout            = "logout"
	TypeLogoutEverywhere  = "logout_everywhere"
	TypePasswordChanged   = "password_changed"
	TypeSessionRevoked    = "session_revoked"
	TypeCleanupRun        = "cleanup_run"
	TypeBruteForceAlert   = "brute_force_alert"
	TypeTokenRevoked      = "token_revoked"
	TypeValidationFailure = "validation_failure"
)

// Event is the canonical audit record for the identity and session layer.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Severity  string            `json:"severity"`
	UserID    int64             `json:"user_id,omitempty"`
	TenantID  int64             `json:"tenant_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

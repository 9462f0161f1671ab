package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversAndFlushesOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: TypeLoginSuccess, Severity: SeverityInfo, Success: true})
	}
	d.Close()

	received := 0
	for {
		select {
		case <-sink.Events():
			received++
			if received == 5 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("received %d events, want 5", received)
		}
	}
}

func TestDispatcherDropsInfoNotCritical(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(block)
		d.Close()
	}()

	// Saturate the worker plus the one-slot buffer, then overflow.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: TypeLoginFailure, Severity: SeverityInfo})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected info events to be dropped once the buffer filled")
	}

	// A critical emit blocks instead of dropping; give it a bounded
	// context so the test cannot hang on a regression.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	before := d.Dropped()
	d.Emit(ctx, Event{EventType: TypeTokenReplay, Severity: SeverityCritical})
	if d.Dropped() != before {
		t.Fatal("critical event must never take the drop path")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled config must return nil dispatcher")
	}
	// All methods are nil-safe.
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports zero drops")
	}
}

func TestJSONWriterSinkShape(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EventType: TypeTokenReplay,
		Severity:  SeverityCritical,
		UserID:    42,
		TenantID:  7,
		SessionID: "sess-1",
		Error:     "refresh token replayed",
	})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if decoded["event_type"] != TypeTokenReplay || decoded["severity"] != SeverityCritical {
		t.Fatalf("unexpected payload: %s", line)
	}
	if decoded["user_id"].(float64) != 42 {
		t.Fatalf("user_id lost: %s", line)
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(_ context.Context, _ Event) {
	<-s.release
}

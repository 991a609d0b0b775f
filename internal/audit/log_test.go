package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"deskbridge.io/internal/auth"
)

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := New(zap.New(core))

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithUser(ctx, "user-42", "")

	if err := l.LogEvent(ctx, "slack.account_linked", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "slack.account_linked" {
		t.Fatalf("unexpected event: %v", entry.Message)
	}
	fields := entry.ContextMap()
	if fields["type"] != "audit" {
		t.Fatalf("unexpected type: %v", fields["type"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", fields["user_id"])
	}
	extra, ok := fields["fields"].(map[string]any)
	if !ok || extra["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", fields["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := New(nil).LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

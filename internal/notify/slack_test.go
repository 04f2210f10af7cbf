package notify

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestNotifier_DisabledWithoutWebhook(t *testing.T) {
	n := New("", "", testLogger())
	if n.Enabled() {
		t.Fatal("expected Notifier to be disabled without a webhook URL")
	}
}

func TestNotifier_NoOpCallsSucceedWhenDisabled(t *testing.T) {
	n := New("", "", testLogger())
	ctx := context.Background()
	if err := n.ClarificationNeeded(ctx, "proj-1", "item-1", "which vendor?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.ApprovalRequested(ctx, "proj-1", "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.Incident(ctx, "msg-1", "analyse", "timeout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNotifier_EnabledWithWebhook(t *testing.T) {
	n := New("https://hooks.slack.test/incoming/xyz", "#alerts", testLogger())
	if !n.Enabled() {
		t.Fatal("expected Notifier to be enabled when a webhook URL is set")
	}
}

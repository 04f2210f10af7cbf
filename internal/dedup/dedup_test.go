package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/auditflow/internal/kv"
)

func TestDedup_MarkIfNew(t *testing.T) {
	backend := kv.NewMemoryBackend()
	d := New(backend)
	key := ProcessedKey("orchestrator", "evt-1")

	first, err := d.MarkIfNew(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Fatal("expected first mark to win")
	}

	second, err := d.MarkIfNew(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second {
		t.Fatal("expected second mark on the same key to lose")
	}
}

func TestProcessedKey_EmbedsGroup(t *testing.T) {
	got := ProcessedKey("workers", "evt-9")
	want := "processed:workers:evt-9"
	if got != want {
		t.Fatalf("ProcessedKey() = %q, want %q", got, want)
	}
}

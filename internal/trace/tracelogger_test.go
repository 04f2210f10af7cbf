package trace

import (
	"context"
	"testing"

	"github.com/fairyhunter13/auditflow/internal/kv"
)

func TestLogger_LogAndFetch(t *testing.T) {
	l := NewLogger(kv.NewMemoryBackend(), "audit:trace")
	l.Log(context.Background(), Record{Agent: "dev_worker", Decision: "definition_of_done_passed"})
	l.Log(context.Background(), Record{Agent: "dev_worker", Decision: "definition_of_done_failed"})

	got := l.Fetch("dev_worker", 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Decision != "definition_of_done_passed" || got[1].Decision != "definition_of_done_failed" {
		t.Fatalf("expected oldest-first order, got %+v", got)
	}
}

func TestLogger_Fetch_RespectsLimitKeepingMostRecent(t *testing.T) {
	l := NewLogger(kv.NewMemoryBackend(), "audit:trace")
	for i := 0; i < 5; i++ {
		l.Log(context.Background(), Record{Agent: "a", Decision: "d"})
	}
	got := l.Fetch("a", 2)
	if len(got) != 2 {
		t.Fatalf("expected limit=2 to cap results, got %d", len(got))
	}
}

func TestLogger_Fetch_UnknownAgentIsEmpty(t *testing.T) {
	l := NewLogger(kv.NewMemoryBackend(), "audit:trace")
	got := l.Fetch("nobody", 0)
	if len(got) != 0 {
		t.Fatalf("expected no records for an unknown agent, got %v", got)
	}
}

func TestLogger_NilBackendIsMemoryOnly(t *testing.T) {
	l := NewLogger(nil, "")
	l.Log(context.Background(), Record{Agent: "a", Decision: "d"})
	got := l.Fetch("a", 0)
	if len(got) != 1 {
		t.Fatalf("expected in-memory-only logging to still record, got %v", got)
	}
}

func TestLogger_DefaultsPrefixWhenEmpty(t *testing.T) {
	l := NewLogger(kv.NewMemoryBackend(), "")
	if l.prefix != "audit:trace" {
		t.Fatalf("prefix = %q, want default audit:trace", l.prefix)
	}
}

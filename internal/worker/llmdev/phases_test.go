package llmdev

import (
	"context"
	"testing"

	"github.com/fairyhunter13/auditflow/internal/kv"
)

func TestPhaseKey(t *testing.T) {
	got := phaseKey("msg-1", "analyse")
	want := "llmdev:msg-1:analyse"
	if got != want {
		t.Fatalf("phaseKey() = %q, want %q", got, want)
	}
}

func TestWorkSummary_UsesRequestTextAndConstraints(t *testing.T) {
	input := map[string]any{
		"work_context": map[string]any{
			"request_text": "add retry logic to the ingest pipeline",
			"constraints":  []any{"no new dependencies", "must ship this week"},
		},
	}
	summary, challenges := workSummary(input)
	if summary != "add retry logic to the ingest pipeline" {
		t.Fatalf("summary = %q", summary)
	}
	if len(challenges) != 2 || challenges[0] != "no new dependencies" {
		t.Fatalf("challenges = %+v", challenges)
	}
}

func TestWorkSummary_DefaultsWhenEmpty(t *testing.T) {
	summary, challenges := workSummary(map[string]any{})
	if summary == "" {
		t.Fatal("expected a default summary")
	}
	if len(challenges) != 1 {
		t.Fatalf("expected one default challenge, got %+v", challenges)
	}
}

func TestAnalyze(t *testing.T) {
	input := map[string]any{"work_context": map[string]any{"request_text": "ship the report export"}}
	out := analyze(input)
	analysis, ok := out["analysis"].(map[string]any)
	if !ok {
		t.Fatalf("expected analysis map, got %+v", out)
	}
	if analysis["summary"] != "ship the report export" {
		t.Fatalf("unexpected summary: %+v", analysis)
	}
	if out["confidence"] != 0.6 {
		t.Fatalf("confidence = %v, want 0.6", out["confidence"])
	}
}

func TestArchitectAndCode(t *testing.T) {
	input := map[string]any{"work_context": map[string]any{"request_text": "ship the report export"}}

	archOut := architect(input)
	archResult, ok := archOut["output"].(map[string]any)
	if !ok || archResult["type"] != "documentation" {
		t.Fatalf("unexpected architecture output: %+v", archOut)
	}

	codeOut := code(input)
	codeResult, ok := codeOut["output"].(map[string]any)
	if !ok || codeResult["type"] != "code" {
		t.Fatalf("unexpected code output: %+v", codeOut)
	}
}

func TestReview(t *testing.T) {
	out := review(map[string]any{})
	recs, ok := out["recommendations"].([]string)
	if !ok || len(recs) == 0 {
		t.Fatalf("expected non-empty recommendations, got %+v", out)
	}
	if out["confidence"] != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", out["confidence"])
	}
}

func TestPhaseHandler_PersistsAnalyseOutput(t *testing.T) {
	backend := kv.NewMemoryBackend()
	// phaserunner.Registry's handler map is unexported, so this exercises the
	// phaseHandler wrapper BuildRegistry is built from, for the analyse phase.
	handler := phaseHandler(backend, "analyse", analyze)

	input := map[string]any{
		"message_id":   "msg-7",
		"work_context": map[string]any{"request_text": "fix the flaky test"},
	}
	output, err := handler(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output["confidence"] != 0.6 {
		t.Fatalf("unexpected handler output: %+v", output)
	}

	raw, found, err := backend.Get(context.Background(), phaseKey("msg-7", "analyse"))
	if err != nil || !found {
		t.Fatalf("expected persisted phase output, found=%v err=%v", found, err)
	}
	if raw == "" {
		t.Fatal("expected non-empty persisted payload")
	}
}

func TestBuildRegistry_ReturnsNonNilRegistry(t *testing.T) {
	if BuildRegistry(kv.NewMemoryBackend()) == nil {
		t.Fatal("expected a non-nil registry")
	}
}

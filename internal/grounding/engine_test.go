package grounding

import (
	"testing"
)

func TestGroundingEngine_Extract_EmptyRowsIsMissingData(t *testing.T) {
	engine := NewGroundingEngine(nil)
	_, err := engine.Extract("proj-1", "item-1", nil)
	if err == nil {
		t.Fatal("expected an error for empty rows")
	}
}

func TestGroundingEngine_Extract_MissingRequiredFieldIsMissingData(t *testing.T) {
	engine := NewGroundingEngine(nil)
	rows := []map[string]any{{"text": "only text"}}
	_, err := engine.Extract("proj-1", "item-1", rows)
	if err == nil {
		t.Fatal("expected an error for a row missing estimated_minutes")
	}
}

func TestGroundingEngine_Extract_BuildsTaskMinutesAndTaskTextFacts(t *testing.T) {
	engine := NewGroundingEngine(nil)
	rows := []map[string]any{
		{"text": "answer emails", "estimated_minutes": 30.0},
		{"text": "write docs", "estimated_minutes": 15.0},
	}
	facts, err := engine.Extract("proj-1", "item-1", rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(facts) != 4 {
		t.Fatalf("len(facts) = %d, want 4", len(facts))
	}
	if facts[0].Field != "task_minutes" || facts[0].Value != 30.0 {
		t.Fatalf("facts[0] = %+v", facts[0])
	}
	if facts[1].Field != "task_text" || facts[1].Value != "answer emails" {
		t.Fatalf("facts[1] = %+v", facts[1])
	}
	prov, ok := facts[0].Provenance["source_fields"].([]string)
	if !ok || len(prov) != 2 {
		t.Fatalf("expected source_fields provenance, got %+v", facts[0].Provenance)
	}
}

func TestGroundingEngine_Extract_RecordsToLedgerWhenPresent(t *testing.T) {
	ledger := NewFactLedger(t.TempDir())
	engine := NewGroundingEngine(ledger)
	rows := []map[string]any{{"text": "x", "estimated_minutes": 5.0}}
	if _, err := engine.Extract("proj-1", "item-1", rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := ledger.LoadEntries("proj-1")
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
}

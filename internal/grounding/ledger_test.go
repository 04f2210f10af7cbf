package grounding

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fairyhunter13/auditflow/internal/domain"
)

func TestFactLedger_RecordAndLoadEntries(t *testing.T) {
	ledger := NewFactLedger(t.TempDir())
	entry := domain.FactLedgerEntry{
		ProjectID:     "proj-1",
		BacklogItemID: "item-1",
		Facts:         []domain.Fact{{ID: "fact-0", Field: "task_minutes", Value: 30.0}},
		Coefficients:  map[string]any{"count": 1},
		Timestamp:     time.Now().UTC(),
	}
	if err := ledger.Record(entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := ledger.Record(entry); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	entries, err := ledger.LoadEntries("proj-1")
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].BacklogItemID != "item-1" {
		t.Fatalf("BacklogItemID = %q", entries[0].BacklogItemID)
	}
}

func TestFactLedger_LoadEntries_MissingFileIsEmptyNotError(t *testing.T) {
	ledger := NewFactLedger(t.TempDir())
	entries, err := ledger.LoadEntries("never-written")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %+v", entries)
	}
}

func TestFactLedger_RecordCreatesOneFilePerProject(t *testing.T) {
	dir := t.TempDir()
	ledger := NewFactLedger(dir)
	if err := ledger.Record(domain.FactLedgerEntry{ProjectID: "proj-a"}); err != nil {
		t.Fatalf("Record proj-a: %v", err)
	}
	if err := ledger.Record(domain.FactLedgerEntry{ProjectID: "proj-b"}); err != nil {
		t.Fatalf("Record proj-b: %v", err)
	}
	if _, err := ledger.LoadEntries("proj-a"); err != nil {
		t.Fatalf("LoadEntries proj-a: %v", err)
	}
	aPath := filepath.Join(dir, "proj-a_ledger.jsonl")
	bPath := filepath.Join(dir, "proj-b_ledger.jsonl")
	if aPath == bPath {
		t.Fatal("expected distinct ledger files per project")
	}
	if _, err := os.Stat(aPath); err != nil {
		t.Fatalf("expected ledger file for proj-a: %v", err)
	}
	if _, err := os.Stat(bPath); err != nil {
		t.Fatalf("expected ledger file for proj-b: %v", err)
	}
}

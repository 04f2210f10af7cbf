// Package grounding implements the fact ledger and grounding engine: an
// append-only per-project JSONL record of every fact extracted from a
// work item's input rows, and the extraction step that turns raw rows
// into domain.Facts the ledger records and the Definition of Done
// evaluator reads provenance from. Grounded on
// original_source/core/fact_ledger.py and core/grounding.py.
package grounding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fairyhunter13/auditflow/internal/domain"
)

const defaultLedgerDir = "storage/audit_log"

// FactLedger appends one JSONL line per domain.FactLedgerEntry under
// baseDir, one file per project (<project_id>_ledger.jsonl), mirroring
// the original's storage/audit_log layout.
type FactLedger struct {
	baseDir string
	mu      sync.Mutex
}

// NewFactLedger builds a FactLedger rooted at baseDir, defaulting to
// storage/audit_log when baseDir is empty.
func NewFactLedger(baseDir string) *FactLedger {
	if baseDir == "" {
		baseDir = defaultLedgerDir
	}
	return &FactLedger{baseDir: baseDir}
}

func (l *FactLedger) path(projectID string) string {
	return filepath.Join(l.baseDir, fmt.Sprintf("%s_ledger.jsonl", projectID))
}

// Record appends one entry to entry.ProjectID's ledger file, creating
// baseDir as needed.
func (l *FactLedger) Record(entry domain.FactLedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return fmt.Errorf("op=FactLedger.Record: mkdir: %w", err)
	}
	f, err := os.OpenFile(l.path(entry.ProjectID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("op=FactLedger.Record: open: %w", err)
	}
	defer f.Close()
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("op=FactLedger.Record: encode: %w", err)
	}
	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("op=FactLedger.Record: write: %w", err)
	}
	return nil
}

// LoadEntries reads back every entry recorded for projectID, oldest
// first. A missing ledger file is an empty ledger, not an error.
func (l *FactLedger) LoadEntries(projectID string) ([]domain.FactLedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=FactLedger.LoadEntries: read: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	out := make([]domain.FactLedgerEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry domain.FactLedgerEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("op=FactLedger.LoadEntries: decode: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

package grounding

import (
	"fmt"
	"sort"
	"time"

	"github.com/fairyhunter13/auditflow/internal/domain"
)

// GroundingEngine turns a work item's raw input rows into domain.Facts,
// each carrying row-identifying provenance, and records them to a
// FactLedger. Grounded on core/grounding.py's GroundingEngine.extract.
type GroundingEngine struct {
	Ledger *FactLedger
}

// NewGroundingEngine builds a GroundingEngine backed by ledger. A nil
// ledger disables recording; extraction still succeeds.
func NewGroundingEngine(ledger *FactLedger) *GroundingEngine {
	return &GroundingEngine{Ledger: ledger}
}

// Extract builds one task_minutes fact and one task_text fact per row,
// failing with a domain.MissingDataError when rows is empty or a row is
// missing "text"/"estimated_minutes". On success the facts are appended
// to projectID's ledger before being returned.
func (g *GroundingEngine) Extract(projectID, backlogItemID string, rows []map[string]any) ([]domain.Fact, error) {
	if len(rows) == 0 {
		return nil, domain.NewMissingDataError("work_context.rows missing", map[string]any{"missing_fields": []string{"rows"}})
	}

	facts := make([]domain.Fact, 0, len(rows)*2)
	for idx, row := range rows {
		text, hasText := row["text"]
		minutes, hasMinutes := row["estimated_minutes"]
		var missing []string
		if !hasText {
			missing = append(missing, "text")
		}
		if !hasMinutes {
			missing = append(missing, "estimated_minutes")
		}
		if len(missing) > 0 {
			return nil, domain.NewMissingDataError("row missing required fields", map[string]any{"missing_fields": missing})
		}

		rowID := row["id"]
		if rowID == nil {
			rowID = idx
		}
		provenance := map[string]any{"row_id": rowID, "source_fields": sortedKeys(row)}

		facts = append(facts,
			domain.Fact{ID: fmt.Sprintf("fact-%d", idx), Field: "task_minutes", Value: minutes, Provenance: provenance},
			domain.Fact{ID: fmt.Sprintf("fact-text-%d", idx), Field: "task_text", Value: text, Provenance: provenance},
		)
	}

	if g.Ledger != nil {
		entry := domain.FactLedgerEntry{
			ProjectID:     projectID,
			BacklogItemID: backlogItemID,
			Facts:         facts,
			Coefficients:  map[string]any{"count": len(facts)},
			Timestamp:     time.Now().UTC(),
		}
		if err := g.Ledger.Record(entry); err != nil {
			return nil, err
		}
	}

	return facts, nil
}

func sortedKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

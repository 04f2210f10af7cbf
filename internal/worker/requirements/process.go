// Package requirements implements the requirements_manager agent target:
// it turns a work item's request text into a structured requirements
// summary (scope plus the KPIs it names). Grounded on
// original_source/services/worker/main.py's generic dispatch-catch-all,
// which auto-completed every item it saw with a placeholder note; this
// binds the same dispatch/lock/complete template to a real requirements
// extraction instead of a placeholder, since spec §9 names
// requirements_manager as a distinct agent target with its own DoD entry.
package requirements

import (
	"context"
	"strings"
	"time"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/worker"
)

// knownKPIs are the KPI terms the clarification heuristic in
// internal/orchestrator asks the requester to choose among.
var knownKPIs = []string{"sla", "mttr", "backlog aging", "incident volume"}

// NewProcess builds the worker.ProcessFunc bound to AGENT_NAME=requirements_manager.
func NewProcess() worker.ProcessFunc {
	return func(_ context.Context, projectID, backlogItemID string, workContext map[string]any) (worker.Response, error) {
		requestText, _ := workContext["request_text"].(string)
		requestText = strings.TrimSpace(requestText)
		if requestText == "" {
			return worker.Response{}, domain.NewMissingDataError(
				"work_context.request_text missing",
				map[string]any{"missing_fields": []string{"request_text"}},
			)
		}

		kpis := namedKPIs(requestText)
		summary := map[string]any{
			"scope": requestText,
			"kpis":  kpis,
		}
		now := time.Now().UTC().Format(time.RFC3339)

		return worker.Response{
			Deliverable: domain.Deliverable{
				Type:          "requirements_summary",
				ProjectID:     projectID,
				BacklogItemID: backlogItemID,
				Content:       summary,
				Timestamp:     now,
				Confidence:    1.0,
			},
			Evidence: map[string]any{
				"requirements": summary,
				"collected_at": now,
			},
		}, nil
	}
}

// namedKPIs returns the known KPI terms requestText mentions, falling
// back to a scope-derived placeholder when none are named explicitly.
func namedKPIs(requestText string) []string {
	lower := strings.ToLower(requestText)
	var found []string
	for _, kpi := range knownKPIs {
		if strings.Contains(lower, kpi) {
			found = append(found, kpi)
		}
	}
	if len(found) == 0 {
		found = []string{"scope-derived"}
	}
	return found
}

package costtime

import (
	"context"
	"time"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/grounding"
	"github.com/fairyhunter13/auditflow/internal/worker"
)

const defaultHourlyRate = 45.0

// NewProcess builds a worker.ProcessFunc that turns a work context's rows
// into a time-waste deliverable, grounding each row through engine so its
// facts land in the project's fact ledger and ride along on
// WORK.ITEM_COMPLETED for the Definition of Done evaluator to inspect.
// Grounded on original_source/services/time_waste_worker/main.py's
// _process_message.
func NewProcess(engine *grounding.GroundingEngine) worker.ProcessFunc {
	return func(ctx context.Context, projectID, backlogItemID string, workContext map[string]any) (worker.Response, error) {
		rawRows, _ := workContext["rows"].([]any)
		if len(rawRows) == 0 {
			return worker.Response{}, domain.NewMissingDataError(
				"work_context.rows missing",
				map[string]any{"missing_fields": []string{"rows"}},
			)
		}

		rows := make([]Row, 0, len(rawRows))
		groundedRows := make([]map[string]any, 0, len(rawRows))
		for _, raw := range rawRows {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			row := Row{}
			row.Text, _ = m["text"].(string)
			row.Category, _ = m["category"].(string)
			if minutes, ok := toFloat(m["estimated_minutes"]); ok {
				row.EstimatedMinutes = &minutes
			}
			rows = append(rows, row)
			groundedRows = append(groundedRows, m)
		}

		var facts []domain.Fact
		if engine != nil {
			if extracted, err := engine.Extract(projectID, backlogItemID, groundedRows); err == nil {
				facts = extracted
			}
		}

		hourlyRate := defaultHourlyRate
		hasHourlyRate := false
		if rate, ok := toFloat(workContext["hourly_rate"]); ok {
			hourlyRate = rate
			hasHourlyRate = true
		}

		totalMinutes, totalHours, breakdown := ComputeTimeMetrics(rows)
		confidence := ComputeConfidence(rows, hasHourlyRate)
		costs := ComputeCosts(totalHours, hourlyRate)
		friction := ComputeFriction(rows)
		scenario := ComputeScenario(totalHours, costs, friction)

		evidence := map[string]any{
			"time_minutes":   totalMinutes,
			"time_hours":     totalHours,
			"confidence":     confidence,
			"cost_estimate":  costs,
			"friction_notes": friction,
			"scenario":       scenario,
			"breakdown":      breakdown,
		}
		if len(facts) > 0 {
			evidence["facts"] = facts
		}

		return worker.Response{
			Deliverable: domain.Deliverable{
				Type:          "time_waste_analysis",
				ProjectID:     projectID,
				BacklogItemID: backlogItemID,
				Content: map[string]any{
					"summary":   scenario.Summary,
					"breakdown": breakdown,
					"friction":  friction,
					"costs":     costs,
				},
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
				Confidence: confidence,
			},
			Evidence: evidence,
		}, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

package llmdev

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fairyhunter13/auditflow/internal/agentmanager"
	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
	"github.com/fairyhunter13/auditflow/internal/worker"
)

var orderedPhases = []string{
	agentmanager.PhaseAnalyze,
	agentmanager.PhaseArchitecture,
	agentmanager.PhaseCode,
	agentmanager.PhaseReview,
}

// NewProcess drives a backlog item through manager's phase pipeline and
// assembles the resulting per-phase outputs (persisted by the phase
// handlers themselves, since each phase runs in an isolated child process)
// into an llm_development_output deliverable.
func NewProcess(backend kv.Backend, manager *agentmanager.Manager) worker.ProcessFunc {
	return func(ctx context.Context, projectID, backlogItemID string, workContext map[string]any) (worker.Response, error) {
		messageID := backlogItemID
		input := map[string]any{
			"project_id":      projectID,
			"backlog_item_id": backlogItemID,
			"message_id":      messageID,
			"work_context":    workContext,
		}
		enabled := agentmanager.EnabledPhases{
			agentmanager.PhaseAnalyze:      true,
			agentmanager.PhaseArchitecture: true,
			agentmanager.PhaseCode:         true,
			agentmanager.PhaseReview:       true,
		}
		if !manager.RunWorkflow(ctx, messageID, enabled, input) {
			return worker.Response{}, fmt.Errorf("op=llmdev.NewProcess: phase pipeline did not complete for %s", messageID)
		}

		phases, confidence := assemblePhases(ctx, backend, messageID)

		return worker.Response{
			Deliverable: domain.Deliverable{
				Type:          "llm_development_output",
				ProjectID:     projectID,
				BacklogItemID: backlogItemID,
				Content:       phases,
				Timestamp:     time.Now().UTC().Format(time.RFC3339),
				Confidence:    confidence,
			},
			Evidence: map[string]any{
				"agent":            "dev_worker",
				"phases_completed": orderedPhases,
			},
		}, nil
	}
}

// assemblePhases reads back each ordered phase's persisted output and
// derives the deliverable's overall confidence from the review phase's
// reported score, defaulting to 0.7 when review's output is absent or
// malformed.
func assemblePhases(ctx context.Context, backend kv.Backend, messageID string) (map[string]any, float64) {
	phases := make(map[string]any, len(orderedPhases))
	for _, phase := range orderedPhases {
		raw, found, err := backend.Get(ctx, phaseKey(messageID, phase))
		if err != nil || !found {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			phases[phase] = decoded
		}
	}

	confidence := 0.7
	if reviewOutput, ok := phases[agentmanager.PhaseReview].(map[string]any); ok {
		if c, ok := reviewOutput["confidence"].(float64); ok {
			confidence = c
		}
	}
	return phases, confidence
}

// Package llmdev is the concrete ANALYZE/ARCHITECTURE/CODE/REVIEW pipeline
// bound to the "dev_worker" agent target, driving the agent manager (C11)
// over phase-runner-isolated (C10) handlers. Grounded on
// original_source/services/llm_dev_worker/main.py's response shape
// (analysis/output/recommendations/confidence), restated as deterministic
// phase handlers since Non-goals exclude LLM provider adapters.
package llmdev

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/auditflow/internal/agentmanager"
	"github.com/fairyhunter13/auditflow/internal/kv"
	"github.com/fairyhunter13/auditflow/internal/phaserunner"
)

// phaseKey is where a phase handler's output is parked so the parent
// process can read it back once the whole pipeline succeeds; phase
// handlers run in an isolated child process and so cannot return state to
// the parent any other way than through shared backend storage.
func phaseKey(messageID, phase string) string {
	return fmt.Sprintf("llmdev:%s:%s", messageID, phase)
}

// BuildRegistry binds each ordered phase to a handler writing its result
// through backend, for the parent to read back after a successful
// RunWorkflow. Used both by the parent (to share phase name constants)
// and, identically, by the re-exec'd child via phaserunner.RunReexecChild.
func BuildRegistry(backend kv.Backend) *phaserunner.Registry {
	reg := phaserunner.NewRegistry()
	reg.Register(agentmanager.PhaseAnalyze, phaseHandler(backend, agentmanager.PhaseAnalyze, analyze))
	reg.Register(agentmanager.PhaseArchitecture, phaseHandler(backend, agentmanager.PhaseArchitecture, architect))
	reg.Register(agentmanager.PhaseCode, phaseHandler(backend, agentmanager.PhaseCode, code))
	reg.Register(agentmanager.PhaseReview, phaseHandler(backend, agentmanager.PhaseReview, review))
	return reg
}

func phaseHandler(backend kv.Backend, phase string, fn func(map[string]any) map[string]any) phaserunner.Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		messageID, _ := input["message_id"].(string)
		output := fn(input)
		encoded, err := json.Marshal(output)
		if err != nil {
			return nil, fmt.Errorf("op=llmdev.phaseHandler: encode: %w", err)
		}
		if err := backend.Set(ctx, phaseKey(messageID, phase), string(encoded), time.Hour); err != nil {
			return nil, fmt.Errorf("op=llmdev.phaseHandler: persist: %w", err)
		}
		return output, nil
	}
}

func workSummary(input map[string]any) (string, []string) {
	workContext, _ := input["work_context"].(map[string]any)
	requestText, _ := workContext["request_text"].(string)
	if requestText == "" {
		requestText = "(no request text supplied)"
	}
	var challenges []string
	if raw, ok := workContext["constraints"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				challenges = append(challenges, s)
			}
		}
	}
	if len(challenges) == 0 {
		challenges = []string{"requirements not further decomposed"}
	}
	return requestText, challenges
}

func analyze(input map[string]any) map[string]any {
	summary, challenges := workSummary(input)
	return map[string]any{
		"analysis": map[string]any{
			"summary":    summary,
			"challenges": challenges,
			"approach":   "decompose the request into backlog items and dispatch to specialized workers",
		},
		"confidence": 0.6,
	}
}

func architect(input map[string]any) map[string]any {
	_, challenges := workSummary(input)
	return map[string]any{
		"output": map[string]any{
			"type":           "documentation",
			"content":        fmt.Sprintf("proposed module boundaries addressing: %s", strings.Join(challenges, "; ")),
			"files_affected": []string{},
		},
		"confidence": 0.65,
	}
}

func code(input map[string]any) map[string]any {
	summary, _ := workSummary(input)
	return map[string]any{
		"output": map[string]any{
			"type":           "code",
			"content":        fmt.Sprintf("implementation sketch for: %s", summary),
			"files_affected": []string{},
		},
		"confidence": 0.6,
	}
}

func review(input map[string]any) map[string]any {
	return map[string]any{
		"recommendations": []string{
			"add test coverage for the new code path",
			"confirm the deliverable satisfies its definition of done",
		},
		"confidence": 0.7,
	}
}

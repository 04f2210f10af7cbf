// Package worker implements the generic worker template (C9): filter
// dispatch events by agent_target, acquire a per-item lock, invoke domain
// logic, and translate the outcome into DELIVERABLE.PUBLISHED /
// WORK.ITEM_COMPLETED or CLARIFICATION.NEEDED. Grounded on
// original_source/services/time_waste_worker/main.py and
// services/llm_dev_worker/main.py, which share this shape under different
// AGENT_NAME/process bindings.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/auditflow/internal/dedup"
	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

// Response is what a worker's domain logic returns on success: the
// deliverable to publish and the evidence attached to WORK.ITEM_COMPLETED.
type Response struct {
	Deliverable domain.Deliverable
	Evidence    map[string]any
}

// ProcessFunc is a worker's domain logic, parameterized by AgentName at
// construction. It returns a *domain.MissingDataError when required input
// fields are absent, which Worker translates into CLARIFICATION.NEEDED.
type ProcessFunc func(ctx context.Context, projectID, backlogItemID string, workContext map[string]any) (Response, error)

// Worker wires one AgentName's ProcessFunc into the dispatch-filter/lock/
// emit template every agent in this module shares.
type Worker struct {
	Backend kv.Backend
	Locker  *dedup.Locker
	Logger  *slog.Logger
	Process ProcessFunc

	AgentName    string
	StreamName   string
	MaxLenApprox int64
	ConsumerName string
	LockTTL      time.Duration
}

// Handle satisfies stream.Handler. Non-matching dispatch events and lock
// contention both resolve to a plain ack (nil error), per spec §4.9 steps
// 2 and 4.
func (w *Worker) Handle(ctx context.Context, envelope domain.EventEnvelope, _ map[string]string) error {
	if envelope.EventType != domain.EventWorkItemDispatched {
		return nil
	}
	target, _ := envelope.Payload["agent_target"].(string)
	if target != w.AgentName {
		return nil
	}

	projectID, _ := envelope.Payload["project_id"].(string)
	itemID, _ := envelope.Payload["backlog_item_id"].(string)
	workContext, _ := envelope.Payload["work_context"].(map[string]any)

	corr := envelope.CorrelationID
	if corr == "" {
		corr = uuid.NewString()
	}
	caus := envelope.EventID

	scope := fmt.Sprintf("backlog:%s", itemID)
	token, acquired, err := w.Locker.Acquire(ctx, scope, w.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		w.Logger.Info("backlog item already claimed by a peer, skipping", slog.String("item_id", itemID))
		return nil
	}
	defer func() {
		if _, relErr := w.Locker.Release(ctx, scope, token); relErr != nil {
			w.Logger.Warn("failed to release worker lock", slog.String("scope", scope), slog.Any("error", relErr))
		}
	}()

	if err := w.publish(ctx, domain.EventWorkItemStarted, map[string]any{
		"project_id": projectID, "backlog_item_id": itemID, "started_at": time.Now().UTC().Format(time.RFC3339),
	}, corr, caus); err != nil {
		return err
	}

	response, procErr := w.Process(ctx, projectID, itemID, workContext)
	if procErr != nil {
		var missing *domain.MissingDataError
		if errors.As(procErr, &missing) {
			fields, _ := missing.Details["missing_fields"].([]string)
			return w.publish(ctx, domain.EventClarificationNeeded, map[string]any{
				"project_id": projectID, "backlog_item_id": itemID,
				"reason": missing.Reason, "missing_fields": fields, "agent": w.AgentName,
			}, corr, caus)
		}
		return procErr
	}

	if err := w.publish(ctx, domain.EventDeliverablePublished, map[string]any{
		"project_id": projectID, "backlog_item_id": itemID, "deliverable": response.Deliverable,
	}, corr, caus); err != nil {
		return err
	}

	completedPayload := map[string]any{
		"project_id": projectID, "backlog_item_id": itemID, "evidence": response.Evidence,
	}
	// facts/claims ride alongside evidence (not nested under it) so the
	// Definition of Done evaluator can read them directly off the
	// WORK.ITEM_COMPLETED payload, per spec §9's outcome-evaluator contract.
	if facts, ok := response.Evidence["facts"]; ok {
		completedPayload["facts"] = facts
	}
	if claims, ok := response.Evidence["claims"]; ok {
		completedPayload["claims"] = claims
	}
	return w.publish(ctx, domain.EventWorkItemCompleted, completedPayload, corr, caus)
}

func (w *Worker) publish(ctx context.Context, eventType string, payload map[string]any, corr, caus string) error {
	env := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  domain.EventVersion1,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Source:        domain.EventSource{Service: w.AgentName, Instance: w.ConsumerName},
		CorrelationID: corr,
		CausationID:   &caus,
		Payload:       payload,
	}
	return publishEnvelope(ctx, w.Backend, w.StreamName, env, w.MaxLenApprox)
}

func publishEnvelope(ctx context.Context, backend kv.Backend, streamName string, env domain.EventEnvelope, maxLenApprox int64) error {
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("op=worker.publishEnvelope: encode: %w", err)
	}
	_, err = backend.XAdd(ctx, streamName, map[string]string{"event": string(encoded)}, maxLenApprox)
	return err
}

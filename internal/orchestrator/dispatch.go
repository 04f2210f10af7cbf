package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

// agentTarget derives a worker target from a backlog item's title, per the
// fixed mapping in spec §4.8 step 2, falling back to dev_worker.
func agentTarget(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "collect requirements"):
		return "requirements_manager"
	case strings.Contains(lower, "run checks"):
		return "dev_worker"
	case strings.Contains(lower, "produce report"), strings.Contains(lower, "test"):
		return "test_worker"
	default:
		return "dev_worker"
	}
}

// defaultRowEstimatedMinutes is the per-row estimate used when a backlog
// item's own description is the only source of work_context rows (no
// worker in this module yet tracks real per-task time logs).
const defaultRowEstimatedMinutes = 30.0

// buildWorkContext assembles the payload a dispatched worker consumes:
// the project's request text (read by dev_worker/requirements_manager)
// plus a non-empty rows entry derived from the item itself (read by
// test_worker's cost/time analysis), so dispatch never hands a worker
// nothing to work with.
func (o *Orchestrator) buildWorkContext(ctx context.Context, projectID string, item domain.BacklogItem) map[string]any {
	requestText := item.Description
	if requestText == "" {
		requestText = item.Title
	}
	if project, found, err := o.Project.Get(ctx, projectID); err == nil && found && project.Description != "" {
		requestText = project.Description
	}

	rowText := item.Description
	if rowText == "" {
		rowText = item.Title
	}

	return map[string]any{
		"request_text": requestText,
		"rows": []any{
			map[string]any{
				"text":              rowText,
				"category":          strings.ToLower(item.Type),
				"estimated_minutes": defaultRowEstimatedMinutes,
			},
		},
	}
}

// DispatchReadyTasks enumerates every project, finds READY backlog items,
// and attempts to dispatch each under a short-lived per-item lock. Items
// whose lock is already held are skipped — a peer is dispatching them.
func (o *Orchestrator) DispatchReadyTasks(ctx context.Context, corr, caus string) error {
	_, err := o.dispatchReadyTasksCounted(ctx, corr, caus)
	return err
}

func (o *Orchestrator) dispatchReadyTasksCounted(ctx context.Context, corr, caus string) (int, error) {
	projectIDs, err := o.Project.AllProjectIDs(ctx)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, projectID := range projectIDs {
		items, err := o.Backlog.IterItemsByStatus(ctx, projectID, domain.BacklogReady)
		if err != nil {
			o.Logger.Warn("failed to enumerate ready items", slog.String("project_id", projectID), slog.Any("error", err))
			continue
		}
		for _, item := range items {
			ok, err := o.dispatchOne(ctx, projectID, item, corr, caus)
			if err != nil {
				o.Logger.Warn("failed to dispatch item", slog.String("item_id", item.ID), slog.Any("error", err))
				continue
			}
			if ok {
				dispatched++
			}
		}
	}
	return dispatched, nil
}

func (o *Orchestrator) dispatchOne(ctx context.Context, projectID string, item domain.BacklogItem, corr, caus string) (bool, error) {
	scope := fmt.Sprintf("project:%s:item:%s:dispatch", projectID, item.ID)
	token, acquired, err := o.Locker.Acquire(ctx, scope, dispatchLockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if _, relErr := o.Locker.Release(ctx, scope, token); relErr != nil {
			o.Logger.Warn("failed to release dispatch lock", slog.String("scope", scope), slog.Any("error", relErr))
		}
	}()

	target := agentTarget(item.Title)
	if err := o.publish(ctx, domain.EventWorkItemDispatched, map[string]any{
		"project_id":      projectID,
		"backlog_item_id": item.ID,
		"item_type":       item.Type,
		"agent_target":    target,
		"work_context":    o.buildWorkContext(ctx, projectID, item),
	}, corr, caus); err != nil {
		return false, err
	}
	if err := o.Backlog.SetStatus(ctx, projectID, item.ID, domain.BacklogInProgress); err != nil {
		return false, err
	}
	return true, nil
}

func publishEnvelope(ctx context.Context, backend kv.Backend, streamName string, env domain.EventEnvelope, maxLenApprox int64) error {
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("op=orchestrator.publishEnvelope: encode: %w", err)
	}
	_, err = backend.XAdd(ctx, streamName, map[string]string{"event": string(encoded)}, maxLenApprox)
	return err
}

func marshalAnswer(answer any) (string, error) {
	encoded, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("op=orchestrator.marshalAnswer: %w", err)
	}
	return string(encoded), nil
}

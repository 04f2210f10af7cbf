// Package orchestrator implements the event interpreter (C8): backlog
// generation, clarification blocking/unblocking, completion/failure
// side-effects, and approval gating. Grounded on
// original_source/services/orchestrator/main.py, generalized onto the
// store/dedup/lock/stream primitives this module builds on top of.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/auditflow/internal/dedup"
	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
	"github.com/fairyhunter13/auditflow/internal/notify"
	"github.com/fairyhunter13/auditflow/internal/observability"
	"github.com/fairyhunter13/auditflow/internal/store"
	"github.com/fairyhunter13/auditflow/internal/trace"
)

// minRequestTextLength is the clarification heuristic's length threshold.
const minRequestTextLength = 12

// dispatchLockTTL bounds how long a dispatch attempt holds its per-item
// lock before another consumer is allowed to retry it.
const dispatchLockTTL = 10 * time.Second

// Orchestrator wires the backlog/question/project stores, the lock/dedup
// primitives, the DoD registry, and the trace logger into the event
// handlers spec §4.8 names.
type Orchestrator struct {
	Backend  kv.Backend
	Backlog  *store.BacklogStore
	Question *store.QuestionStore
	Project  *store.ProjectStore
	Locker   *dedup.Locker
	DoD      *domain.DoDRegistry
	Trace    *trace.Logger
	Notifier *notify.Notifier
	Logger   *slog.Logger

	StreamName   string
	MaxLenApprox int64
	ConsumerName string
}

// New builds an Orchestrator with a default-validator DoD registry
// pre-registered for the four named agent types, per spec §9's catalog.
func New(backend kv.Backend, backlog *store.BacklogStore, question *store.QuestionStore, project *store.ProjectStore, locker *dedup.Locker, tracer *trace.Logger, notifier *notify.Notifier, logger *slog.Logger, streamName string, maxLenApprox int64, consumerName string) *Orchestrator {
	dod := domain.NewDoDRegistry()
	for _, agent := range []string{"test_worker", "dev_worker", "requirements_manager", "scenario_worker"} {
		dod.Register(agent, domain.DefaultValidator)
	}
	return &Orchestrator{
		Backend: backend, Backlog: backlog, Question: question, Project: project,
		Locker: locker, DoD: dod, Trace: tracer, Notifier: notifier, Logger: logger,
		StreamName: streamName, MaxLenApprox: maxLenApprox, ConsumerName: consumerName,
	}
}

// Handle satisfies stream.Handler: it dispatches on envelope.EventType and
// never returns a business-logic error to the caller — only contract-level
// wiring errors (backend I/O failures) propagate, since spec §4.8 states
// business exceptions must never route to DLQ.
func (o *Orchestrator) Handle(ctx context.Context, envelope domain.EventEnvelope, _ map[string]string) error {
	corr := envelope.CorrelationID
	if corr == "" {
		corr = uuid.NewString()
	}
	caus := envelope.EventID

	switch envelope.EventType {
	case domain.EventProjectInitialRequestReceived:
		return o.handleInitialRequest(ctx, envelope.Payload, corr, caus)
	case domain.EventUserAnswerSubmitted:
		return o.handleAnswerSubmitted(ctx, envelope.Payload, corr, caus)
	case domain.EventWorkItemCompleted:
		return o.handleWorkItemCompleted(ctx, envelope, corr, caus)
	case domain.EventHumanApprovalRequested:
		return o.handleApprovalRequested(ctx, envelope.Payload)
	case domain.EventHumanApprovalSubmitted:
		return o.handleApprovalSubmitted(ctx, envelope.Payload, corr, caus)
	default:
		return nil
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, payload map[string]any, corr, caus string) error {
	env := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  domain.EventVersion1,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Source:        domain.EventSource{Service: "orchestrator", Instance: o.ConsumerName},
		CorrelationID: corr,
		CausationID:   &caus,
		Payload:       payload,
	}
	return publishEnvelope(ctx, o.Backend, o.StreamName, env, o.MaxLenApprox)
}

// ensureProject upserts the Project record behind projectID with the
// request text and requester carried on the initiating event, so later
// dispatches (which may run well after this handler returns, e.g. once a
// clarification question is answered) can still recover the original
// request when building a work item's work_context.
func (o *Orchestrator) ensureProject(ctx context.Context, projectID, requestText, requester string) error {
	p, found, err := o.Project.Get(ctx, projectID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if !found {
		p = domain.Project{ID: projectID, Name: projectID, Status: domain.ProjectCreated, CreatedAt: now}
	}
	if requestText != "" {
		p.Description = requestText
	}
	if requester != "" {
		p.Requester = requester
	}
	p.UpdatedAt = now
	return o.Project.Put(ctx, p)
}

func backlogTemplate(projectID string) []domain.BacklogItem {
	return []domain.BacklogItem{
		{ID: uuid.NewString(), ProjectID: projectID, Type: "TASK", Title: "Collect requirements", Description: "Clarify scope and KPIs", Status: domain.BacklogReady},
		{ID: uuid.NewString(), ProjectID: projectID, Type: "TASK", Title: "Run checks", Description: "Compute KPIs and anomalies", Status: domain.BacklogReady},
		{ID: uuid.NewString(), ProjectID: projectID, Type: "TASK", Title: "Produce report", Description: "Generate deliverable", Status: domain.BacklogReady},
	}
}

// needsClarification implements the length-threshold and required-signal
// heuristic, identically to _needs_clarification in the grounding source.
func needsClarification(requestText string) (bool, string) {
	txt := strings.TrimSpace(requestText)
	if len(txt) < minRequestTextLength {
		return true, "Request too short: specify scope and expected KPIs."
	}
	lower := strings.ToLower(txt)
	if strings.Contains(lower, "kpi") && !strings.Contains(txt, "?") {
		return true, "Which KPIs do you want (SLA, MTTR, backlog aging, incident volume, etc.)?"
	}
	return false, ""
}

func (o *Orchestrator) handleInitialRequest(ctx context.Context, payload map[string]any, corr, caus string) error {
	projectID, _ := payload["project_id"].(string)
	if projectID == "" {
		return fmt.Errorf("op=Orchestrator.handleInitialRequest: missing project_id")
	}
	requestText, _ := payload["request_text"].(string)
	requester, _ := payload["requester"].(string)

	if err := o.ensureProject(ctx, projectID, requestText, requester); err != nil {
		o.Logger.Warn("failed to persist project record", slog.String("project_id", projectID), slog.Any("error", err))
	}

	for _, item := range backlogTemplate(projectID) {
		if err := o.Backlog.PutItem(ctx, item); err != nil {
			return err
		}
	}

	items, err := o.Backlog.IterItemsByStatus(ctx, projectID, domain.BacklogReady)
	if err != nil {
		return err
	}
	for _, item := range items {
		needs, reason := needsClarification(requestText)
		if !needs {
			continue
		}
		if err := o.Backlog.SetStatus(ctx, projectID, item.ID, domain.BacklogBlocked); err != nil {
			o.Logger.Warn("failed to block item pending clarification", slog.String("item_id", item.ID), slog.Any("error", err))
			continue
		}
		question := domain.Question{
			ID: uuid.NewString(), ProjectID: projectID, BacklogItemID: item.ID,
			QuestionText: reason, AnswerType: domain.AnswerText, Status: domain.QuestionOpen, CorrelationID: corr,
		}
		if err := o.Question.Put(ctx, question); err != nil {
			return err
		}
		if err := o.publish(ctx, domain.EventQuestionCreated, map[string]any{"question": question}, corr, caus); err != nil {
			return err
		}
		if err := o.publish(ctx, domain.EventClarificationNeeded, map[string]any{
			"project_id": projectID, "backlog_item_id": item.ID, "question_id": question.ID,
		}, corr, caus); err != nil {
			return err
		}
		if o.Notifier != nil {
			if err := o.Notifier.ClarificationNeeded(ctx, projectID, item.ID, reason); err != nil {
				o.Logger.Warn("failed to notify clarification needed", slog.String("item_id", item.ID), slog.Any("error", err))
			}
		}
	}

	if _, err := o.Project.RefreshStatus(ctx, projectID); err != nil {
		o.Logger.Warn("failed to refresh project status", slog.String("project_id", projectID), slog.Any("error", err))
	}
	return o.DispatchReadyTasks(ctx, corr, caus)
}

func (o *Orchestrator) handleAnswerSubmitted(ctx context.Context, payload map[string]any, corr, caus string) error {
	projectID, _ := payload["project_id"].(string)
	questionID, _ := payload["question_id"].(string)
	if projectID == "" || questionID == "" {
		return fmt.Errorf("op=Orchestrator.handleAnswerSubmitted: missing project_id or question_id")
	}
	answer, err := marshalAnswer(payload["answer"])
	if err != nil {
		return err
	}
	if err := o.Question.RecordAnswer(ctx, projectID, questionID, answer); err != nil {
		return err
	}
	question, found, err := o.Question.Get(ctx, projectID, questionID)
	if err != nil {
		return err
	}
	if !found || question.BacklogItemID == "" {
		return nil
	}
	if err := o.Backlog.SetStatus(ctx, projectID, question.BacklogItemID, domain.BacklogReady); err != nil {
		o.Logger.Warn("failed to unblock item", slog.String("item_id", question.BacklogItemID), slog.Any("error", err))
		return nil
	}
	if err := o.publish(ctx, domain.EventBacklogItemUnblocked, map[string]any{
		"project_id": projectID, "backlog_item_id": question.BacklogItemID, "question_id": questionID,
	}, corr, caus); err != nil {
		return err
	}
	if _, err := o.Project.RefreshStatus(ctx, projectID); err != nil {
		o.Logger.Warn("failed to refresh project status", slog.String("project_id", projectID), slog.Any("error", err))
	}
	return o.DispatchReadyTasks(ctx, corr, caus)
}

func (o *Orchestrator) handleWorkItemCompleted(ctx context.Context, envelope domain.EventEnvelope, corr, caus string) error {
	payload := envelope.Payload
	projectID, _ := payload["project_id"].(string)
	itemID, _ := payload["backlog_item_id"].(string)
	agent := envelope.Source.Service
	if agent == "" {
		agent = "unknown"
	}
	observability.StreamMessagesTotal.WithLabelValues(o.StreamName, "orchestrator", "work_item_completed_seen").Inc()

	ok, reason := o.DoD.Validate(agent, payload)
	if !ok {
		failure := domain.Failure{Category: domain.DataInsufficiency, Reason: reason}
		if err := o.publish(ctx, domain.EventWorkItemFailed, map[string]any{
			"project_id": projectID, "backlog_item_id": itemID,
			"failure": map[string]any{"category": string(failure.Category), "reason": failure.Reason},
		}, corr, caus); err != nil {
			return err
		}
		return o.publish(ctx, domain.EventClarificationNeeded, map[string]any{
			"project_id": projectID, "backlog_item_id": itemID, "reason": reason, "agent": agent,
		}, corr, caus)
	}

	item, found, err := o.Backlog.Get(ctx, projectID, itemID)
	if err == nil && found && item.Status != domain.BacklogDone {
		if terr := o.Backlog.SetStatus(ctx, projectID, itemID, domain.BacklogDone); terr != nil {
			o.Logger.Warn("illegal transition to DONE", slog.String("item_id", itemID), slog.Any("error", terr))
		}
	}
	o.Trace.Log(ctx, trace.Record{
		Agent: agent, EventType: envelope.EventType, Decision: "definition_of_done_passed",
		Inputs: map[string]any{"payload": payload}, Outputs: map[string]any{"status": "DONE"}, CorrelationID: corr,
	})
	if _, err := o.Project.RefreshStatus(ctx, projectID); err != nil {
		o.Logger.Warn("failed to refresh project status", slog.String("project_id", projectID), slog.Any("error", err))
	}
	return nil
}

func (o *Orchestrator) handleApprovalRequested(ctx context.Context, payload map[string]any) error {
	projectID, _ := payload["project_id"].(string)
	itemID, _ := payload["backlog_item_id"].(string)
	if err := o.Backend.Set(ctx, approvalKey(projectID, itemID), "1", 0); err != nil {
		return err
	}
	if o.Notifier != nil {
		if err := o.Notifier.ApprovalRequested(ctx, projectID, itemID); err != nil {
			o.Logger.Warn("failed to notify approval requested", slog.String("item_id", itemID), slog.Any("error", err))
		}
	}
	return nil
}

func (o *Orchestrator) handleApprovalSubmitted(ctx context.Context, payload map[string]any, corr, caus string) error {
	projectID, _ := payload["project_id"].(string)
	itemID, _ := payload["backlog_item_id"].(string)
	if err := o.Backend.Del(ctx, approvalKey(projectID, itemID)); err != nil {
		return err
	}
	return o.DispatchReadyTasks(ctx, corr, caus)
}

func approvalKey(projectID, itemID string) string {
	return fmt.Sprintf("approval:pending:%s:%s", projectID, itemID)
}

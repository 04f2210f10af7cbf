package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/fairyhunter13/auditflow/internal/dedup"
	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
	"github.com/fairyhunter13/auditflow/internal/notify"
	"github.com/fairyhunter13/auditflow/internal/store"
	"github.com/fairyhunter13/auditflow/internal/trace"
)

func newTestOrchestrator() (*Orchestrator, kv.Backend) {
	backend := kv.NewMemoryBackend()
	backlog := store.NewBacklogStore(backend, "audit")
	question := store.NewQuestionStore(backend, "audit")
	project := store.NewProjectStore(backend, "audit", backlog)
	locker := dedup.NewLocker(backend)
	tracer := trace.NewLogger(backend, "audit")
	notifier := notify.New("", "", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	o := New(backend, backlog, question, project, locker, tracer, notifier, logger, "audit:events", 1000, "test-consumer")
	return o, backend
}

func TestAgentTarget(t *testing.T) {
	tests := map[string]string{
		"Collect requirements":  "requirements_manager",
		"Run checks":            "dev_worker",
		"Produce report":        "test_worker",
		"Run the full test run": "test_worker",
		"Something else":        "dev_worker",
	}
	for title, want := range tests {
		if got := agentTarget(title); got != want {
			t.Errorf("agentTarget(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestNeedsClarification_ShortRequestNeedsClarification(t *testing.T) {
	needs, reason := needsClarification("too short")
	if !needs || reason == "" {
		t.Fatalf("needs=%v reason=%q", needs, reason)
	}
}

func TestNeedsClarification_KPIWithoutQuestionMarkNeedsClarification(t *testing.T) {
	needs, _ := needsClarification("please report on our KPIs across the org")
	if !needs {
		t.Fatal("expected a KPI mention without '?' to need clarification")
	}
}

func TestNeedsClarification_WellFormedRequestPasses(t *testing.T) {
	needs, reason := needsClarification("Audit our SLA compliance for the last quarter across all regions")
	if needs {
		t.Fatalf("expected a well-formed request to pass, reason=%q", reason)
	}
}

func TestHandleInitialRequest_CreatesBacklogAndDispatchesWhenClear(t *testing.T) {
	o, backend := newTestOrchestrator()
	ctx := context.Background()
	payload := map[string]any{
		"project_id":   "proj-1",
		"request_text": "Audit our SLA compliance for the last quarter across all regions",
	}
	if err := o.Handle(ctx, domain.EventEnvelope{
		EventType: domain.EventProjectInitialRequestReceived, Payload: payload, CorrelationID: "corr-1",
	}, nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	items, err := o.Backlog.AllItemIDs(ctx, "proj-1")
	if err != nil || len(items) != 3 {
		t.Fatalf("expected 3 backlog items, got %v (err=%v)", items, err)
	}
	inProgress, err := o.Backlog.IterItemsByStatus(ctx, "proj-1", domain.BacklogInProgress)
	if err != nil {
		t.Fatalf("IterItemsByStatus: %v", err)
	}
	if len(inProgress) != 3 {
		t.Fatalf("expected all 3 items dispatched into IN_PROGRESS, got %d", len(inProgress))
	}
	msgs, err := backend.XRange(ctx, o.StreamName, "-", "+", 0, false)
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatal("expected dispatch events published onto the event stream")
	}
}

func TestHandleInitialRequest_ShortRequestBlocksAndAsksQuestion(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()
	payload := map[string]any{"project_id": "proj-1", "request_text": "too short"}
	if err := o.Handle(ctx, domain.EventEnvelope{
		EventType: domain.EventProjectInitialRequestReceived, Payload: payload, CorrelationID: "corr-1",
	}, nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	blocked, err := o.Backlog.IterItemsByStatus(ctx, "proj-1", domain.BacklogBlocked)
	if err != nil {
		t.Fatalf("IterItemsByStatus: %v", err)
	}
	if len(blocked) != 3 {
		t.Fatalf("expected all 3 items blocked pending clarification, got %d", len(blocked))
	}
	open, err := o.Question.OpenQuestionIDs(ctx, "proj-1")
	if err != nil || len(open) != 3 {
		t.Fatalf("expected 3 open questions, got %v (err=%v)", open, err)
	}
}

func TestHandleInitialRequest_MissingProjectIDErrors(t *testing.T) {
	o, _ := newTestOrchestrator()
	err := o.Handle(context.Background(), domain.EventEnvelope{
		EventType: domain.EventProjectInitialRequestReceived, Payload: map[string]any{},
	}, nil)
	if err == nil {
		t.Fatal("expected an error for a missing project_id")
	}
}

func TestHandleAnswerSubmitted_UnblocksItemAndDispatches(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()
	if err := o.Project.Put(ctx, domain.Project{ID: "proj-1"}); err != nil {
		t.Fatalf("Put project: %v", err)
	}
	item := domain.BacklogItem{ID: "item-1", ProjectID: "proj-1", Title: "Collect requirements", Status: domain.BacklogBlocked}
	if err := o.Backlog.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	question := domain.Question{ID: "q-1", ProjectID: "proj-1", BacklogItemID: "item-1", Status: domain.QuestionOpen}
	if err := o.Question.Put(ctx, question); err != nil {
		t.Fatalf("Put question: %v", err)
	}

	payload := map[string]any{"project_id": "proj-1", "question_id": "q-1", "answer": "MTTR and SLA"}
	if err := o.Handle(ctx, domain.EventEnvelope{EventType: domain.EventUserAnswerSubmitted, Payload: payload}, nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _, err := o.Backlog.Get(ctx, "proj-1", "item-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.BacklogInProgress {
		t.Fatalf("Status = %v, want IN_PROGRESS (unblocked then dispatched)", got.Status)
	}
}

func TestHandleWorkItemCompleted_ValidationFailurePublishesFailureAndClarification(t *testing.T) {
	o, backend := newTestOrchestrator()
	ctx := context.Background()
	item := domain.BacklogItem{ID: "item-1", ProjectID: "proj-1", Status: domain.BacklogInProgress}
	if err := o.Backlog.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	env := domain.EventEnvelope{
		EventType: domain.EventWorkItemCompleted,
		Source:    domain.EventSource{Service: "dev_worker"},
		Payload:   map[string]any{"project_id": "proj-1", "backlog_item_id": "item-1"},
	}
	if err := o.Handle(ctx, env, nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _, err := o.Backlog.Get(ctx, "proj-1", "item-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status == domain.BacklogDone {
		t.Fatal("expected a validation failure to leave the item short of DONE")
	}
	msgs, err := backend.XRange(ctx, o.StreamName, "-", "+", 0, false)
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected WORK.ITEM_FAILED and CLARIFICATION.NEEDED published, got %d messages", len(msgs))
	}
}

func TestHandleWorkItemCompleted_ValidEvidenceMarksItemDone(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()
	item := domain.BacklogItem{ID: "item-1", ProjectID: "proj-1", Status: domain.BacklogInProgress}
	if err := o.Backlog.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	env := domain.EventEnvelope{
		EventType: domain.EventWorkItemCompleted,
		Source:    domain.EventSource{Service: "dev_worker"},
		Payload: map[string]any{
			"project_id": "proj-1", "backlog_item_id": "item-1",
			"evidence": map[string]any{"time_minutes": 30.0},
		},
	}
	if err := o.Handle(ctx, env, nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _, err := o.Backlog.Get(ctx, "proj-1", "item-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.BacklogDone {
		t.Fatalf("Status = %v, want DONE", got.Status)
	}
}

func TestHandleApprovalRequestedAndSubmitted_ClearsApprovalKey(t *testing.T) {
	o, backend := newTestOrchestrator()
	ctx := context.Background()
	payload := map[string]any{"project_id": "proj-1", "backlog_item_id": "item-1"}

	if err := o.Handle(ctx, domain.EventEnvelope{EventType: domain.EventHumanApprovalRequested, Payload: payload}, nil); err != nil {
		t.Fatalf("Handle(requested): %v", err)
	}
	_, found, err := backend.Get(ctx, approvalKey("proj-1", "item-1"))
	if err != nil || !found {
		t.Fatalf("expected approval key set, found=%v err=%v", found, err)
	}

	if err := o.Handle(ctx, domain.EventEnvelope{EventType: domain.EventHumanApprovalSubmitted, Payload: payload}, nil); err != nil {
		t.Fatalf("Handle(submitted): %v", err)
	}
	_, found, err = backend.Get(ctx, approvalKey("proj-1", "item-1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected approval key cleared after submission")
	}
}

func TestHandle_UnknownEventTypeIsANoOp(t *testing.T) {
	o, _ := newTestOrchestrator()
	if err := o.Handle(context.Background(), domain.EventEnvelope{EventType: "SOME.UNKNOWN_TYPE"}, nil); err != nil {
		t.Fatalf("expected an unknown event type to be ignored without error, got %v", err)
	}
}

func TestDispatchReadyTasks_SkipsItemsUnderContention(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()
	project := store.NewProjectStore(o.Backend, "audit", o.Backlog)
	if err := project.Put(ctx, domain.Project{ID: "proj-1"}); err != nil {
		t.Fatalf("Put project: %v", err)
	}
	item := domain.BacklogItem{ID: "item-1", ProjectID: "proj-1", Title: "Run checks", Status: domain.BacklogReady}
	if err := o.Backlog.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	otherLocker := dedup.NewLocker(o.Backend)
	scope := "project:proj-1:item:item-1:dispatch"
	_, acquired, err := otherLocker.Acquire(ctx, scope, dispatchLockTTL)
	if err != nil || !acquired {
		t.Fatalf("pre-acquire: acquired=%v err=%v", acquired, err)
	}

	dispatched, err := o.dispatchReadyTasksCounted(ctx, "corr-1", "caus-1")
	if err != nil {
		t.Fatalf("dispatchReadyTasksCounted: %v", err)
	}
	if dispatched != 0 {
		t.Fatalf("expected the contended item to be skipped, dispatched=%d", dispatched)
	}
}

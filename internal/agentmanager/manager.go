// Package agentmanager runs the ordered ANALYZE/ARCHITECTURE/CODE/REVIEW
// phase pipeline (C11) on top of the phase runner's process-isolated
// timeouts, journaling progress so a restart can report where a message_id
// stalled. Grounded on original_source/agent_manager.py's AgentManager.
package agentmanager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fairyhunter13/auditflow/internal/phaserunner"
	"github.com/fairyhunter13/auditflow/internal/store"
)

// Phase names, in pipeline order.
const (
	PhaseAnalyze      = "analyse"
	PhaseArchitecture = "architecture"
	PhaseCode         = "code"
	PhaseReview       = "review"
)

var orderedPhases = []string{PhaseAnalyze, PhaseArchitecture, PhaseCode, PhaseReview}

// RepublishHandler resubmits message_id for another attempt at phase after a
// timeout; returning an error routes straight to incident escalation.
type RepublishHandler func(ctx context.Context, messageID, phase string) error

// IncidentHandler escalates a message_id/phase failure for human attention.
type IncidentHandler func(ctx context.Context, messageID, phase, reason string)

// Timeouts maps each ordered phase to its wall-clock budget.
type Timeouts struct {
	Analyze      time.Duration
	Architecture time.Duration
	Code         time.Duration
	Review       time.Duration
}

func (t Timeouts) forPhase(phase string) time.Duration {
	switch phase {
	case PhaseAnalyze:
		return t.Analyze
	case PhaseArchitecture:
		return t.Architecture
	case PhaseCode:
		return t.Code
	case PhaseReview:
		return t.Review
	default:
		return 30 * time.Second
	}
}

// Manager runs a message_id through the ordered phase pipeline, checkpointing
// to a StateJournal and breaking the circuit per phase on repeated failure.
type Manager struct {
	Journal          *store.StateJournal
	Timeouts         Timeouts
	ReviewMaxRetries int
	Republish        RepublishHandler
	Incident         IncidentHandler
	Logger           *slog.Logger

	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a Manager with one gobreaker.CircuitBreaker per ordered phase,
// tripping after 5 consecutive failures and probing again after 30s.
func New(journal *store.StateJournal, timeouts Timeouts, reviewMaxRetries int, republish RepublishHandler, incident IncidentHandler, logger *slog.Logger) *Manager {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(orderedPhases))
	for _, phase := range orderedPhases {
		phase := phase
		breakers[phase] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "agentmanager:" + phase,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	if reviewMaxRetries < 1 {
		reviewMaxRetries = 1
	}
	return &Manager{
		Journal: journal, Timeouts: timeouts, ReviewMaxRetries: reviewMaxRetries,
		Republish: republish, Incident: incident, Logger: logger, breakers: breakers,
	}
}

// EnabledPhases is the set of ordered phase names this workflow run should
// execute; a phase not present is skipped. Phases themselves run in an
// isolated child process (see phaserunner.RunReexecChild), so the workflow
// here only needs to know which phases apply, not a handler reference.
type EnabledPhases map[string]bool

// RunWorkflow drives messageID through ANALYZE -> ARCHITECTURE -> CODE ->
// REVIEW, persisting journal state before each phase attempt, retrying
// REVIEW up to ReviewMaxRetries times, and clearing the journal only on
// full success.
func (m *Manager) RunWorkflow(ctx context.Context, messageID string, enabled EnabledPhases, input map[string]any) bool {
	for _, phase := range orderedPhases {
		if !enabled[phase] {
			continue
		}
		var ok bool
		if phase == PhaseReview {
			ok = m.runReviewWithRetry(ctx, messageID, input)
		} else {
			ok = m.runPhase(ctx, phase, messageID, input)
		}
		if !ok {
			return false
		}
	}
	m.Journal.Clear(ctx)
	return true
}

func (m *Manager) runPhase(ctx context.Context, phase, messageID string, input map[string]any) bool {
	m.persistPhase(ctx, phase, messageID)

	breaker := m.breakers[phase]
	_, err := breaker.Execute(func() (any, error) {
		result, runErr := phaserunner.RunWithTimeout(ctx, phase, input, m.Timeouts.forPhase(phase))
		if runErr != nil {
			return nil, runErr
		}
		if !result.OK {
			return nil, fmt.Errorf("%s", result.Reason)
		}
		return result.Output, nil
	})
	if err == nil {
		return true
	}
	m.handleFailure(ctx, phase, messageID, err.Error())
	return false
}

func (m *Manager) runReviewWithRetry(ctx context.Context, messageID string, input map[string]any) bool {
	for attempt := 1; attempt <= m.ReviewMaxRetries; attempt++ {
		if m.runPhase(ctx, PhaseReview, messageID, input) {
			return true
		}
		m.Logger.Warn("retrying review", slog.String("message_id", messageID), slog.Int("attempt", attempt), slog.Int("max_attempts", m.ReviewMaxRetries))
	}
	m.handleFailure(ctx, PhaseReview, messageID, "all review attempts failed")
	return false
}

func (m *Manager) persistPhase(ctx context.Context, phase, messageID string) {
	m.Journal.Record(ctx, store.PhaseState{Phase: phase, MessageID: messageID, Timestamp: time.Now().UTC()})
}

func (m *Manager) handleFailure(ctx context.Context, phase, messageID, reason string) {
	if reason == "timeout" && m.Republish != nil {
		m.Logger.Warn("phase timed out, republishing", slog.String("phase", phase), slog.String("message_id", messageID))
		republishErr := m.Republish(ctx, messageID, phase)
		if republishErr == nil {
			return
		}
		m.Logger.Error("republish failed", slog.String("phase", phase), slog.String("message_id", messageID), slog.Any("error", republishErr))
	}

	m.Logger.Error("entering incident mode", slog.String("phase", phase), slog.String("message_id", messageID), slog.String("reason", reason))
	if m.Incident != nil {
		m.Incident(ctx, messageID, phase, reason)
	}
}

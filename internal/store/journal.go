package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fairyhunter13/auditflow/internal/kv"
)

// PhaseState is the minimal progress marker the agent manager checkpoints
// after each phase transition, so a restart can resume instead of
// replaying from the beginning.
type PhaseState struct {
	Phase     string    `json:"phase"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StateJournal persists the last known PhaseState both in the backend
// (a hash, surviving container restarts) and in a local append-only file
// (surviving a backend outage), on a best-effort basis: persistence
// failures are logged, never returned to the caller, matching the
// original's "this is a convenience, not a source of truth" stance.
// Grounded on original_source/agent_manager.py's StateJournal class.
type StateJournal struct {
	backend     kv.Backend
	hashKey     string
	journalPath string
	logger      *slog.Logger

	mu sync.Mutex
}

// NewStateJournal builds a StateJournal. journalPath may be empty, which
// disables local-file persistence (backend-only journaling).
func NewStateJournal(backend kv.Backend, hashKey, journalPath string, logger *slog.Logger) *StateJournal {
	return &StateJournal{backend: backend, hashKey: hashKey, journalPath: journalPath, logger: logger}
}

// Record checkpoints state to the backend hash and appends it to the local
// journal file. Both writers are independently best-effort.
func (j *StateJournal) Record(ctx context.Context, state PhaseState) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := map[string]string{
		"phase":      state.Phase,
		"message_id": state.MessageID,
		"timestamp":  strconv.FormatInt(state.Timestamp.Unix(), 10),
	}
	if j.backend != nil {
		if err := j.backend.HSet(ctx, j.hashKey, entry); err != nil {
			j.logger.Warn("unable to persist state journal to backend", slog.Any("error", err))
		}
	}
	if j.journalPath != "" {
		if err := j.appendLocal(state); err != nil {
			j.logger.Warn("unable to persist state journal locally", slog.Any("error", err))
		}
	}
}

func (j *StateJournal) appendLocal(state PhaseState) error {
	if err := os.MkdirAll(filepath.Dir(j.journalPath), 0o755); err != nil {
		return fmt.Errorf("op=StateJournal.Record: mkdir: %w", err)
	}
	f, err := os.OpenFile(j.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("op=StateJournal.Record: open: %w", err)
	}
	defer f.Close()
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("op=StateJournal.Record: encode: %w", err)
	}
	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("op=StateJournal.Record: write: %w", err)
	}
	return nil
}

// Clear removes the journaled state from both the backend and local file.
func (j *StateJournal) Clear(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.backend != nil {
		if err := j.backend.Del(ctx, j.hashKey); err != nil {
			j.logger.Warn("unable to clear backend state journal", slog.Any("error", err))
		}
	}
	if j.journalPath != "" {
		if err := os.Remove(j.journalPath); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("unable to clear local state journal", slog.Any("error", err))
		}
	}
}

// LastKnownState returns the most recently recorded PhaseState from the
// backend hash. The local journal file is not read back, so with no backend
// it reports no state.
func (j *StateJournal) LastKnownState(ctx context.Context) (PhaseState, bool) {
	if j.backend == nil {
		return PhaseState{}, false
	}
	exists, err := j.backend.HExists(ctx, j.hashKey)
	if err != nil || !exists {
		return PhaseState{}, false
	}
	data, err := j.backend.HGetAll(ctx, j.hashKey)
	if err != nil {
		j.logger.Warn("unable to read state journal from backend", slog.Any("error", err))
		return PhaseState{}, false
	}
	phase, messageID := data["phase"], data["message_id"]
	if phase == "" || messageID == "" {
		return PhaseState{}, false
	}
	var ts time.Time
	if raw, ok := data["timestamp"]; ok {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts = time.Unix(secs, 0).UTC()
		}
	}
	return PhaseState{Phase: phase, MessageID: messageID, Timestamp: ts}, true
}

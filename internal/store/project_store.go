package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

// ProjectStore manages Project aggregate documents, their interaction and
// customer-message logs, and the global project index. A Project's status
// field is a cache of CalculateProjectStatus's last result, refreshed on
// every backlog mutation the orchestrator observes.
type ProjectStore struct {
	backend kv.Backend
	prefix  string
	backlog *BacklogStore
}

// NewProjectStore builds a ProjectStore keyed under prefix, delegating
// status derivation to backlog.
func NewProjectStore(backend kv.Backend, prefix string, backlog *BacklogStore) *ProjectStore {
	return &ProjectStore{backend: backend, prefix: prefix, backlog: backlog}
}

func (s *ProjectStore) infoKey(pid string) string {
	return fmt.Sprintf("%s:project:%s:info", s.prefix, pid)
}

func (s *ProjectStore) allKey() string {
	return fmt.Sprintf("%s:projects:all", s.prefix)
}

func (s *ProjectStore) interactionsKey(pid string) string {
	return fmt.Sprintf("%s:project:%s:interactions", s.prefix, pid)
}

func (s *ProjectStore) messagesKey(pid string) string {
	return fmt.Sprintf("%s:project:%s:messages", s.prefix, pid)
}

func (s *ProjectStore) unreadKey(pid string) string {
	return fmt.Sprintf("%s:project:%s:messages:unread", s.prefix, pid)
}

// Get loads one Project, returning (zero, false, nil) when absent.
func (s *ProjectStore) Get(ctx context.Context, pid string) (domain.Project, bool, error) {
	raw, found, err := s.backend.Get(ctx, s.infoKey(pid))
	if err != nil || !found {
		return domain.Project{}, found, err
	}
	var p domain.Project
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Project{}, false, fmt.Errorf("op=ProjectStore.Get: decode: %w", err)
	}
	return p, true, nil
}

// Put upserts a Project and registers it in the global index.
func (s *ProjectStore) Put(ctx context.Context, p domain.Project) error {
	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("op=ProjectStore.Put: encode: %w", err)
	}
	if err := s.backend.Set(ctx, s.infoKey(p.ID), string(encoded), 0); err != nil {
		return err
	}
	return s.backend.SAdd(ctx, s.allKey(), p.ID)
}

// AllProjectIDs returns every registered project id.
func (s *ProjectStore) AllProjectIDs(ctx context.Context) ([]string, error) {
	return s.backend.SMembers(ctx, s.allKey())
}

// RecordInteraction appends an Interaction to pid's append-only log.
func (s *ProjectStore) RecordInteraction(ctx context.Context, pid string, in domain.Interaction) error {
	encoded, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("op=ProjectStore.RecordInteraction: encode: %w", err)
	}
	return s.backend.LPush(ctx, s.interactionsKey(pid), string(encoded))
}

// Interactions returns up to limit most recent interactions, newest first.
func (s *ProjectStore) Interactions(ctx context.Context, pid string, limit int64) ([]domain.Interaction, error) {
	raws, err := s.backend.LRange(ctx, s.interactionsKey(pid), 0, limit-1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Interaction, 0, len(raws))
	for _, raw := range raws {
		var in domain.Interaction
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

// RecordCustomerMessage appends a CustomerMessage to pid's log and marks it
// unread.
func (s *ProjectStore) RecordCustomerMessage(ctx context.Context, pid string, msg domain.CustomerMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("op=ProjectStore.RecordCustomerMessage: encode: %w", err)
	}
	if err := s.backend.LPush(ctx, s.messagesKey(pid), string(encoded)); err != nil {
		return err
	}
	return s.backend.SAdd(ctx, s.unreadKey(pid), msg.ID)
}

// MarkMessageRead removes msgID from pid's unread set.
func (s *ProjectStore) MarkMessageRead(ctx context.Context, pid, msgID string) error {
	return s.backend.SRem(ctx, s.unreadKey(pid), msgID)
}

// UnreadMessageIDs returns the ids of pid's unread customer messages.
func (s *ProjectStore) UnreadMessageIDs(ctx context.Context, pid string) ([]string, error) {
	return s.backend.SMembers(ctx, s.unreadKey(pid))
}

// CalculateProjectStatus derives a Project's status purely from its
// backlog item status-index counts, per the rules:
//  1. no items at all               -> CREATED
//  2. all items terminal, all DONE  -> COMPLETED
//  3. any item FAILED, none
//     IN_PROGRESS/BLOCKED/READY     -> FAILED
//  4. any item BLOCKED              -> AWAITING_INPUT
//  5. any item IN_PROGRESS          -> IN_PROGRESS
//  6. otherwise (e.g. only READY
//     and/or CREATED items)        -> IN_PROGRESS
//
// Grounded on original_source/core/project_store.py's
// calculate_project_status.
func (s *ProjectStore) CalculateProjectStatus(ctx context.Context, pid string) (domain.ProjectStatus, float64, int, error) {
	total, err := s.backlog.AllItemIDs(ctx, pid)
	if err != nil {
		return "", 0, 0, err
	}
	if len(total) == 0 {
		return domain.ProjectCreated, 0, 0, nil
	}

	counts, err := s.backlog.CountByStatus(ctx, pid,
		domain.BacklogCreated, domain.BacklogReady, domain.BacklogBlocked,
		domain.BacklogInProgress, domain.BacklogDone, domain.BacklogFailed)
	if err != nil {
		return "", 0, 0, err
	}

	n := len(total)
	done := counts[domain.BacklogDone]
	failed := counts[domain.BacklogFailed]
	blocked := counts[domain.BacklogBlocked]
	inProgress := counts[domain.BacklogInProgress]
	ready := counts[domain.BacklogReady]

	completion := float64(done) / float64(n) * 100

	switch {
	case done == n:
		return domain.ProjectCompleted, completion, blocked, nil
	case failed > 0 && inProgress == 0 && blocked == 0 && ready == 0:
		return domain.ProjectFailed, completion, blocked, nil
	case blocked > 0:
		return domain.ProjectAwaitingInput, completion, blocked, nil
	case inProgress > 0:
		return domain.ProjectInProgress, completion, blocked, nil
	default:
		return domain.ProjectInProgress, completion, blocked, nil
	}
}

// RefreshStatus recomputes and persists a Project's derived status fields.
func (s *ProjectStore) RefreshStatus(ctx context.Context, pid string) (domain.Project, error) {
	p, found, err := s.Get(ctx, pid)
	if err != nil {
		return domain.Project{}, err
	}
	if !found {
		return domain.Project{}, fmt.Errorf("op=ProjectStore.RefreshStatus: %w: project %s", domain.ErrNotFound, pid)
	}
	status, completion, blocked, err := s.CalculateProjectStatus(ctx, pid)
	if err != nil {
		return domain.Project{}, err
	}
	p.Status = status
	p.CompletionPercentage = completion
	p.BlockedItems = blocked
	p.UpdatedAt = time.Now().UTC()
	if err := s.Put(ctx, p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// Package store implements the KV Stores (C2): BacklogStore, QuestionStore,
// ProjectStore, StateJournal, on top of the kv.Backend interface. Key
// layout is carried literally from spec §6.3; grounded on
// original_source/core/backlog_store.py, core/question_store.py,
// core/project_store.py, and agent_manager.py's StateJournal.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

// BacklogStore manages BacklogItem documents and their indexes.
type BacklogStore struct {
	backend kv.Backend
	prefix  string
}

// NewBacklogStore builds a BacklogStore keyed under prefix.
func NewBacklogStore(backend kv.Backend, prefix string) *BacklogStore {
	return &BacklogStore{backend: backend, prefix: prefix}
}

func (s *BacklogStore) itemKey(pid, iid string) string {
	return fmt.Sprintf("%s:project:%s:backlog:item:%s", s.prefix, pid, iid)
}

func (s *BacklogStore) indexKey(pid string) string {
	return fmt.Sprintf("%s:project:%s:backlog:index", s.prefix, pid)
}

func (s *BacklogStore) statusKey(pid string, status domain.BacklogStatus) string {
	return fmt.Sprintf("%s:project:%s:backlog:status:%s", s.prefix, pid, status)
}

// Get loads one BacklogItem, returning (zero, false, nil) when absent.
func (s *BacklogStore) Get(ctx context.Context, pid, iid string) (domain.BacklogItem, bool, error) {
	raw, found, err := s.backend.Get(ctx, s.itemKey(pid, iid))
	if err != nil || !found {
		return domain.BacklogItem{}, found, err
	}
	var item domain.BacklogItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return domain.BacklogItem{}, false, fmt.Errorf("op=BacklogStore.Get: decode: %w", err)
	}
	return item, true, nil
}

// PutItem is an upsert that atomically (w.r.t. this key's own history)
// maintains index membership: on a status change it removes the item from
// the previous status index before adding it to the new one (invariant 1).
func (s *BacklogStore) PutItem(ctx context.Context, item domain.BacklogItem) error {
	previous, existed, err := s.Get(ctx, item.ProjectID, item.ID)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("op=BacklogStore.PutItem: encode: %w", err)
	}
	if err := s.backend.Set(ctx, s.itemKey(item.ProjectID, item.ID), string(encoded), 0); err != nil {
		return err
	}
	if err := s.backend.SAdd(ctx, s.indexKey(item.ProjectID), item.ID); err != nil {
		return err
	}
	if existed && previous.Status != item.Status {
		if err := s.backend.SRem(ctx, s.statusKey(item.ProjectID, previous.Status), item.ID); err != nil {
			return err
		}
	}
	return s.backend.SAdd(ctx, s.statusKey(item.ProjectID, item.Status), item.ID)
}

// SetStatus is a get-modify-put that asserts the transition is legal before
// mutating state, and must observe invariant 1 (exactly one status-index
// membership).
func (s *BacklogStore) SetStatus(ctx context.Context, pid, iid string, to domain.BacklogStatus) error {
	item, found, err := s.Get(ctx, pid, iid)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("op=BacklogStore.SetStatus: %w: item %s", domain.ErrNotFound, iid)
	}
	if err := domain.AssertTransition(iid, item.Status, to); err != nil {
		return err
	}
	item.Status = to
	return s.PutItem(ctx, item)
}

// IterItemsByStatus returns items in status, in id-sorted order —
// deterministic iteration per spec §9's design note.
func (s *BacklogStore) IterItemsByStatus(ctx context.Context, pid string, status domain.BacklogStatus) ([]domain.BacklogItem, error) {
	ids, err := s.backend.SMembers(ctx, s.statusKey(pid, status))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]domain.BacklogItem, 0, len(ids))
	for _, id := range ids {
		item, found, err := s.Get(ctx, pid, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, item)
		}
	}
	return out, nil
}

// AllItemIDs returns every item id registered for pid, sorted.
func (s *BacklogStore) AllItemIDs(ctx context.Context, pid string) ([]string, error) {
	ids, err := s.backend.SMembers(ctx, s.indexKey(pid))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// CountByStatus returns the number of items in pid's index for each of the
// given statuses, used by ProjectStore.CalculateProjectStatus.
func (s *BacklogStore) CountByStatus(ctx context.Context, pid string, statuses ...domain.BacklogStatus) (map[domain.BacklogStatus]int, error) {
	out := make(map[domain.BacklogStatus]int, len(statuses))
	for _, st := range statuses {
		ids, err := s.backend.SMembers(ctx, s.statusKey(pid, st))
		if err != nil {
			return nil, err
		}
		out[st] = len(ids)
	}
	return out, nil
}

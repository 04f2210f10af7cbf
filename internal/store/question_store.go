package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

// QuestionStore manages Question documents, their answers, and the
// open-question index used to drive CLARIFICATION.NEEDED bookkeeping.
type QuestionStore struct {
	backend kv.Backend
	prefix  string
}

// NewQuestionStore builds a QuestionStore keyed under prefix.
func NewQuestionStore(backend kv.Backend, prefix string) *QuestionStore {
	return &QuestionStore{backend: backend, prefix: prefix}
}

func (s *QuestionStore) key(pid, qid string) string {
	return fmt.Sprintf("%s:project:%s:question:%s", s.prefix, pid, qid)
}

func (s *QuestionStore) indexKey(pid string) string {
	return fmt.Sprintf("%s:project:%s:questions:index", s.prefix, pid)
}

func (s *QuestionStore) openKey(pid string) string {
	return fmt.Sprintf("%s:project:%s:questions:open", s.prefix, pid)
}

func (s *QuestionStore) answerKey(pid, qid string) string {
	return fmt.Sprintf("%s:project:%s:question:%s:answer", s.prefix, pid, qid)
}

// Get loads one Question, returning (zero, false, nil) when absent.
func (s *QuestionStore) Get(ctx context.Context, pid, qid string) (domain.Question, bool, error) {
	raw, found, err := s.backend.Get(ctx, s.key(pid, qid))
	if err != nil || !found {
		return domain.Question{}, found, err
	}
	var q domain.Question
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return domain.Question{}, false, fmt.Errorf("op=QuestionStore.Get: decode: %w", err)
	}
	return q, true, nil
}

// Put upserts a Question, maintaining the index and the open set per its
// status.
func (s *QuestionStore) Put(ctx context.Context, q domain.Question) error {
	encoded, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("op=QuestionStore.Put: encode: %w", err)
	}
	if err := s.backend.Set(ctx, s.key(q.ProjectID, q.ID), string(encoded), 0); err != nil {
		return err
	}
	if err := s.backend.SAdd(ctx, s.indexKey(q.ProjectID), q.ID); err != nil {
		return err
	}
	if q.Status == domain.QuestionOpen {
		return s.backend.SAdd(ctx, s.openKey(q.ProjectID), q.ID)
	}
	return s.backend.SRem(ctx, s.openKey(q.ProjectID), q.ID)
}

// RecordAnswer stores the raw answer payload and closes the question.
func (s *QuestionStore) RecordAnswer(ctx context.Context, pid, qid, answerJSON string) error {
	q, found, err := s.Get(ctx, pid, qid)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("op=QuestionStore.RecordAnswer: %w: question %s", domain.ErrNotFound, qid)
	}
	if err := s.backend.Set(ctx, s.answerKey(pid, qid), answerJSON, 0); err != nil {
		return err
	}
	q.Status = domain.QuestionClosed
	return s.Put(ctx, q)
}

// Answer returns the raw stored answer payload, if any.
func (s *QuestionStore) Answer(ctx context.Context, pid, qid string) (string, bool, error) {
	return s.backend.Get(ctx, s.answerKey(pid, qid))
}

// OpenQuestionIDs returns the ids of every OPEN question for pid, sorted.
func (s *QuestionStore) OpenQuestionIDs(ctx context.Context, pid string) ([]string, error) {
	ids, err := s.backend.SMembers(ctx, s.openKey(pid))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Package memory is a process-local knowledge store.
package memory

import (
	"context"
	"slices"
	"sync"

	"learnbot/internal/domain"
)

// Store keeps records in insertion order, keyed by normalized question.
type Store struct {
	mu      sync.RWMutex
	order   []string
	records map[string]domain.QARecord
}

// NewStore creates a store holding copies of seed, in order.
func NewStore(seed ...domain.QARecord) *Store {
	s := &Store{records: make(map[string]domain.QARecord)}
	for _, rec := range seed {
		s.put(rec)
	}
	return s
}

// ListAll returns copies of every record in first-insertion order.
func (s *Store) ListAll(_ context.Context) ([]domain.QARecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QARecord, 0, len(s.order))
	for _, q := range s.order {
		out = append(out, copyRecord(s.records[q]))
	}
	return out, nil
}

// FindByQuestion looks up the record of the normalized question.
func (s *Store) FindByQuestion(_ context.Context, question string) (domain.QARecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[domain.Normalize(question)]
	if !ok {
		return domain.QARecord{}, false, nil
	}
	return copyRecord(rec), true, nil
}

// Upsert replaces the record of rec.Question, keeping its original position.
func (s *Store) Upsert(_ context.Context, rec domain.QARecord) error {
	if domain.Normalize(rec.Question) == "" {
		return domain.ErrEmptyQuestion
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(rec)
	return nil
}

func (s *Store) put(rec domain.QARecord) {
	rec.Question = domain.Normalize(rec.Question)
	if _, ok := s.records[rec.Question]; !ok {
		s.order = append(s.order, rec.Question)
	}
	s.records[rec.Question] = copyRecord(rec)
}

func copyRecord(rec domain.QARecord) domain.QARecord {
	return domain.QARecord{Question: rec.Question, Answers: slices.Clone(rec.Answers)}
}

package memory

import (
	"context"
	"slices"
	"sync"

	"learnbot/internal/domain"
)

// Storage keeps the last saved snapshot in process memory. It backs the
// "memory" snapshot type and tests.
type Storage struct {
	mu    sync.RWMutex
	snap  domain.Snapshot
	saved bool
}

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Save(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = clone(snap)
	s.saved = true
	return nil
}

func (s *Storage) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return domain.Snapshot{}, domain.ErrNoSnapshot
	}
	return clone(s.snap), nil
}

func clone(snap domain.Snapshot) domain.Snapshot {
	out := snap
	out.Entries = make([]domain.IndexEntry, len(snap.Entries))
	for i, e := range snap.Entries {
		out.Entries[i] = domain.IndexEntry{
			Vector:   slices.Clone(e.Vector),
			Question: e.Question,
			Answers:  slices.Clone(e.Answers),
		}
	}
	return out
}

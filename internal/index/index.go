// Package index holds the immutable in-memory retrieval index and the holder
// that swaps it on rebuild.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"learnbot/internal/domain"
	"learnbot/internal/embedding"
)

// Match is an index entry scored against a query vector.
type Match struct {
	Entry domain.IndexEntry
	Score float64
}

// Index is a brute-force cosine index over taught questions. An Index value
// is never mutated after construction.
type Index struct {
	embedder  string
	dimension int
	entries   []domain.IndexEntry
}

// New validates entries against dimension and wraps them in an Index.
func New(embedder string, dimension int, entries []domain.IndexEntry) (*Index, error) {
	if dimension <= 0 && len(entries) > 0 {
		return nil, errors.New("invalid dimension")
	}
	for i, e := range entries {
		if len(e.Vector) != dimension {
			return nil, fmt.Errorf("entry %d: vector dimension %d, want %d", i, len(e.Vector), dimension)
		}
	}
	return &Index{embedder: embedder, dimension: dimension, entries: entries}, nil
}

// Build embeds the question of every record that has at least one answer.
// Any embedding failure aborts the build and no index is returned.
func Build(ctx context.Context, e domain.Embedder, records []domain.QARecord, workers int) (*Index, error) {
	usable := make([]domain.QARecord, 0, len(records))
	questions := make([]string, 0, len(records))
	for _, rec := range records {
		answers := rec.NonEmptyAnswers()
		if len(answers) == 0 || rec.Question == "" {
			continue
		}
		usable = append(usable, domain.QARecord{Question: rec.Question, Answers: answers})
		questions = append(questions, rec.Question)
	}
	vectors, err := embedding.EmbedAll(ctx, e, questions, workers)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	dimension := e.Dimension()
	if len(vectors) > 0 {
		dimension = len(vectors[0])
	}
	entries := make([]domain.IndexEntry, len(usable))
	for i, rec := range usable {
		entries[i] = domain.IndexEntry{Vector: vectors[i], Question: rec.Question, Answers: rec.Answers}
	}
	return New(e.Name(), dimension, entries)
}

// FromSnapshot restores an index saved with Snapshot.
func FromSnapshot(s domain.Snapshot) (*Index, error) {
	return New(s.Embedder, s.Dimension, s.Entries)
}

// Snapshot returns the persistable form of the index.
func (ix *Index) Snapshot() domain.Snapshot {
	return domain.Snapshot{Embedder: ix.embedder, Dimension: ix.dimension, Entries: ix.entries}
}

// Compatible reports whether vectors from the named embedder can be compared
// against this index.
func (ix *Index) Compatible(embedder string, dimension int) bool {
	return ix.embedder == embedder && (len(ix.entries) == 0 || ix.dimension == dimension)
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Search scores every entry against query and returns those scoring at
// least minScore, best first. Equal scores keep insertion order.
func (ix *Index) Search(query []float32, minScore float64) []Match {
	if ix == nil {
		return nil
	}
	matches := make([]Match, 0, len(ix.entries))
	for _, e := range ix.entries {
		if s := embedding.Cosine(query, e.Vector); s >= minScore {
			matches = append(matches, Match{Entry: e, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

// Holder publishes the current index to concurrent readers.
type Holder struct {
	p atomic.Pointer[Index]
}

// Load returns the current index, or nil before the first Store.
func (h *Holder) Load() *Index { return h.p.Load() }

// Store replaces the current index.
func (h *Holder) Store(ix *Index) { h.p.Store(ix) }

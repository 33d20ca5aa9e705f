package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbot/internal/domain"
)

func TestStorage_SaveLoadIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)

	snap := domain.Snapshot{Embedder: "e", Dimension: 1, Entries: []domain.IndexEntry{
		{Vector: []float32{1}, Question: "q", Answers: []string{"a"}},
	}}
	require.NoError(t, s.Save(ctx, snap))
	snap.Entries[0].Answers[0] = "mutated"

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Entries[0].Answers[0])
}

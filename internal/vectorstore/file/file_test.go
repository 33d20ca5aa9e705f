package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbot/internal/domain"
)

func TestStorage_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.json")
	s := NewStorage(path)

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)

	snap := domain.Snapshot{
		Embedder:  "tfidf:0badf00d",
		Dimension: 3,
		Entries: []domain.IndexEntry{
			{Vector: []float32{1, 0, 0}, Question: "a", Answers: []string{"x", "y"}},
			{Vector: []float32{0, 1, 0}, Question: "b", Answers: []string{"z"}},
		},
	}
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStorage(path).Load(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoSnapshot)
}

package tfidf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbot/internal/embedding"
)

func embed(t *testing.T, e *Embedder, text string) []float32 {
	t.Helper()
	vec, err := e.Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestEmbedder_Deterministic(t *testing.T) {
	e := NewEmbedder(256)
	a := embed(t, e, "Capital of France")
	b := embed(t, e, "capital of france")

	assert.Len(t, a, 256)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, embedding.Cosine(a, b), 1e-6)
}

func TestEmbedder_UnrelatedTextScoresLow(t *testing.T) {
	e := NewEmbedder(0)
	q := embed(t, e, "capital of france")
	other := embed(t, e, "xyz unrelated nonsense")

	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Less(t, embedding.Cosine(q, other), 0.45)
}

func TestEmbedder_SharedWordsScoreHigher(t *testing.T) {
	e := NewEmbedder(0)
	q := embed(t, e, "what is the capital of france")
	near := embed(t, e, "capital of france")
	far := embed(t, e, "largest ocean on earth")

	assert.Greater(t, embedding.Cosine(q, near), embedding.Cosine(q, far))
	assert.Greater(t, embedding.Cosine(q, near), 0.45)
}

func TestEmbedder_StopwordsOnlyIsZeroVector(t *testing.T) {
	e := NewEmbedder(64)
	vec := embed(t, e, "the and of")
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestEmbedder_PrepareOnce(t *testing.T) {
	e := NewEmbedder(128)
	assert.Equal(t, "tfidf", e.Name())
	assert.Error(t, e.Prepare(nil))

	require.NoError(t, e.Prepare([]string{"capital of france", "largest ocean"}))
	assert.Regexp(t, `^tfidf:[0-9a-f]{8}$`, e.Name())
	assert.Error(t, e.Prepare([]string{"again"}))

	a := embed(t, e, "capital of france")
	b := embed(t, e, "capital of france")
	assert.Equal(t, a, b)
}

func TestEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(8).Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

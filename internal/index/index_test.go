package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbot/internal/domain"
)

// keywordEmbedder maps each known keyword to one axis.
type keywordEmbedder struct {
	axes  []string
	fail  string
	mu    sync.Mutex
	calls int
}

func (k *keywordEmbedder) Name() string   { return "keyword" }
func (k *keywordEmbedder) Dimension() int { return len(k.axes) }

func (k *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	if k.fail != "" && strings.Contains(text, k.fail) {
		return nil, errors.New("boom")
	}
	vec := make([]float32, len(k.axes))
	for i, a := range k.axes {
		if strings.Contains(text, a) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func TestBuild_SkipsRecordsWithoutAnswers(t *testing.T) {
	e := &keywordEmbedder{axes: []string{"france", "spain", "italy"}}
	records := []domain.QARecord{
		{Question: "capital of france", Answers: []string{"Paris", " "}},
		{Question: "capital of spain", Answers: []string{"  "}},
		{Question: "capital of italy", Answers: []string{"Rome"}},
	}

	ix, err := Build(context.Background(), e, records, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, 2, e.calls)

	snap := ix.Snapshot()
	assert.Equal(t, "keyword", snap.Embedder)
	assert.Equal(t, 3, snap.Dimension)
	assert.Equal(t, []string{"Paris"}, snap.Entries[0].Answers)
}

func TestBuild_FailureReturnsNoIndex(t *testing.T) {
	e := &keywordEmbedder{axes: []string{"a"}, fail: "bad"}
	ix, err := Build(context.Background(), e, []domain.QARecord{
		{Question: "good", Answers: []string{"x"}},
		{Question: "bad", Answers: []string{"y"}},
	}, 1)
	assert.Error(t, err)
	assert.Nil(t, ix)
}

func TestSearch_FiltersAndOrders(t *testing.T) {
	ix, err := New("k", 2, []domain.IndexEntry{
		{Vector: []float32{0, 1}, Question: "b"},
		{Vector: []float32{1, 0}, Question: "a"},
		{Vector: []float32{1, 1}, Question: "ab"},
		{Vector: []float32{1, 0}, Question: "a2"},
	})
	require.NoError(t, err)

	matches := ix.Search([]float32{1, 0}, 0.5)
	require.Len(t, matches, 3)
	assert.Equal(t, "a", matches[0].Entry.Question)
	assert.Equal(t, "a2", matches[1].Entry.Question)
	assert.Equal(t, "ab", matches[2].Entry.Question)
	assert.InDelta(t, 0.7071, matches[2].Score, 1e-3)
}

func TestNew_RejectsDimensionMismatch(t *testing.T) {
	_, err := New("k", 3, []domain.IndexEntry{{Vector: []float32{1, 0}}})
	assert.Error(t, err)
}

func TestCompatible(t *testing.T) {
	ix, err := New("k", 2, []domain.IndexEntry{{Vector: []float32{1, 0}}})
	require.NoError(t, err)
	assert.True(t, ix.Compatible("k", 2))
	assert.False(t, ix.Compatible("k", 3))
	assert.False(t, ix.Compatible("other", 2))
}

func TestHolder(t *testing.T) {
	var h Holder
	assert.Nil(t, h.Load())
	assert.Zero(t, h.Load().Len())
	assert.Empty(t, h.Load().Search([]float32{1}, 0))

	ix, err := New("k", 1, []domain.IndexEntry{{Vector: []float32{1}, Question: "q"}})
	require.NoError(t, err)
	h.Store(ix)
	assert.Equal(t, 1, h.Load().Len())
}

package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbot/internal/domain"
)

// fakeQdrant implements the handful of collection endpoints Storage uses.
// Scroll pages are two points long to exercise pagination.
type fakeQdrant struct {
	mu     sync.Mutex
	exists bool
	points []point
	apiKey string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = r.Header.Get("api-key")
	switch {
	case r.Method == http.MethodDelete:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.exists, f.points = false, nil
	case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/points"):
		var body struct {
			Points []point `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.points = append(f.points, body.Points...)
	case r.Method == http.MethodPut:
		f.exists = true
	case strings.HasSuffix(r.URL.Path, "/points/scroll"):
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Offset *int `json:"offset"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		start := 0
		if body.Offset != nil {
			start = *body.Offset
		}
		end := min(start+2, len(f.points))
		var next any
		if end < len(f.points) {
			next = end
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"points": f.points[start:end], "next_page_offset": next},
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestStorage_SaveLoad(t *testing.T) {
	fake := &fakeQdrant{}
	server := httptest.NewServer(fake)
	defer server.Close()
	ctx := context.Background()
	s := NewStorage(Config{URL: server.URL, APIKey: "k", Collection: "test"})

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)

	snap := domain.Snapshot{Embedder: "tfidf", Dimension: 2}
	for _, q := range []string{"a", "b", "c", "d", "e"} {
		snap.Entries = append(snap.Entries, domain.IndexEntry{Vector: []float32{1, 0}, Question: q, Answers: []string{q + "!"}})
	}
	require.NoError(t, s.Save(ctx, snap))
	assert.Equal(t, "k", fake.apiKey)

	// Scroll order is by point id; Load restores insertion order.
	fake.mu.Lock()
	fake.points[0], fake.points[4] = fake.points[4], fake.points[0]
	fake.mu.Unlock()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	require.NoError(t, s.Save(ctx, domain.Snapshot{Embedder: "tfidf"}))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestStorage_PointIDsAreStable(t *testing.T) {
	fake := &fakeQdrant{}
	server := httptest.NewServer(fake)
	defer server.Close()
	s := NewStorage(Config{URL: server.URL})

	snap := domain.Snapshot{Embedder: "e", Dimension: 1, Entries: []domain.IndexEntry{{Vector: []float32{1}, Question: "q", Answers: []string{"a"}}}}
	require.NoError(t, s.Save(context.Background(), snap))
	first := fake.points[0].ID
	require.NoError(t, s.Save(context.Background(), snap))
	assert.Equal(t, first, fake.points[0].ID)
}

func TestStorage_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	s := NewStorage(Config{URL: server.URL})

	_, err := s.Load(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoSnapshot)
	assert.Error(t, s.Save(context.Background(), domain.Snapshot{}))
}

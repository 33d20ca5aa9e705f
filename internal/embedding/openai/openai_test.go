package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	t.Setenv("LEARNBOT_TEST_KEY", "secret")
	c, err := NewClient(Config{BaseURL: url, APIKeyEnv: "LEARNBOT_TEST_KEY", Model: "m", MaxRetries: retries}, nil)
	require.NoError(t, err)
	return c
}

func TestClient_OpenAIShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["input"])
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	assert.Zero(t, c.Dimension())

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimension())
	assert.Equal(t, "openai:m", c.Name())
}

func TestClient_OllamaShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 2}})
	}))
	defer server.Close()

	vec, err := newTestClient(t, server.URL, 0).Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1}})
	}))
	defer server.Close()

	vec, err := newTestClient(t, server.URL, 2).Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 3).Embed(context.Background(), "hi")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("LEARNBOT_EMPTY_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "LEARNBOT_EMPTY_KEY"}, nil)
	assert.Error(t, err)

	c, err := NewClient(Config{APIKeyEnv: "LEARNBOT_EMPTY_KEY", AllowNoKey: true, Dimension: 768}, nil)
	require.NoError(t, err)
	assert.Equal(t, 768, c.Dimension())
	assert.Equal(t, "openai:text-embedding-3-small", c.Name())
}

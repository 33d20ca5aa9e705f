package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"learnbot/internal/domain"
)

const (
	upsertBatch = 128
	scrollLimit = 256
)

// pointNamespace scopes the name-based UUIDs of index points.
var pointNamespace = uuid.MustParse("5c1f0a52-7f8e-4d3c-9a5e-2b7c0d61e4a9")

// Storage is a minimal REST client to Qdrant that keeps one index snapshot
// per collection. It assumes cosine distance and recreates the collection on
// every save.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "learnbot"
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type payload struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Embedder string   `json:"embedder"`
	Ordinal  int      `json:"ordinal"`
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload payload   `json:"payload"`
}

// Save replaces the collection contents with snap.
func (s *Storage) Save(ctx context.Context, snap domain.Snapshot) error {
	if err := s.drop(ctx); err != nil {
		return err
	}
	if len(snap.Entries) == 0 {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     snap.Dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	for start := 0; start < len(snap.Entries); start += upsertBatch {
		end := min(start+upsertBatch, len(snap.Entries))
		points := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			e := snap.Entries[i]
			points = append(points, point{
				ID:     uuid.NewSHA1(pointNamespace, []byte(e.Question)).String(),
				Vector: e.Vector,
				Payload: payload{
					Question: e.Question,
					Answers:  e.Answers,
					Embedder: snap.Embedder,
					Ordinal:  i,
				},
			})
		}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
			return fmt.Errorf("upserting points: %w", err)
		}
	}
	return nil
}

// Load scrolls through every point of the collection. A missing or empty
// collection yields domain.ErrNoSnapshot.
func (s *Storage) Load(ctx context.Context) (domain.Snapshot, error) {
	var (
		points []point
		offset any
	)
	for {
		req := map[string]any{
			"limit":        scrollLimit,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []point `json:"points"`
				NextPageOffset any     `json:"next_page_offset"`
			} `json:"result"`
		}
		status, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp)
		if status == http.StatusNotFound {
			return domain.Snapshot{}, domain.ErrNoSnapshot
		}
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("scrolling points: %w", err)
		}
		points = append(points, resp.Result.Points...)
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	if len(points) == 0 {
		return domain.Snapshot{}, domain.ErrNoSnapshot
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Payload.Ordinal < points[j].Payload.Ordinal })
	snap := domain.Snapshot{
		Embedder:  points[0].Payload.Embedder,
		Dimension: len(points[0].Vector),
		Entries:   make([]domain.IndexEntry, len(points)),
	}
	for i, p := range points {
		snap.Entries[i] = domain.IndexEntry{Vector: p.Vector, Question: p.Payload.Question, Answers: p.Payload.Answers}
	}
	return snap, nil
}

func (s *Storage) drop(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("dropping collection: %w", err)
	}
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// do sends a JSON request and decodes the response into out when non-nil.
// The HTTP status is returned alongside any error.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

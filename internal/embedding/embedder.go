// Package embedding holds the vector helpers shared by every embedder
// implementation.
package embedding

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"learnbot/internal/domain"
)

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length or zero magnitude score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MaxCosine returns the highest similarity between query and any of corpus,
// or 0 for an empty corpus.
func MaxCosine(query []float32, corpus [][]float32) float64 {
	best := 0.0
	for i, vec := range corpus {
		s := Cosine(query, vec)
		if i == 0 || s > best {
			best = s
		}
	}
	return best
}

// EmbedAll embeds texts on at most workers goroutines. The first failure
// cancels the remaining calls and no vectors are returned.
func EmbedAll(ctx context.Context, e domain.Embedder, texts []string, workers int) ([][]float32, error) {
	if workers <= 0 {
		workers = 1
	}
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Package intent detects follow-up intents by comparing an utterance with
// example phrases in embedding space.
package intent

import (
	"context"
	"fmt"

	"learnbot/internal/domain"
	"learnbot/internal/embedding"
)

// DefaultThreshold is the similarity an utterance must exceed to match.
const DefaultThreshold = 0.7

// Labels records which categories an utterance matched.
type Labels map[Category]bool

// Has reports whether cat matched.
func (l Labels) Has(cat Category) bool { return l[cat] }

// Classifier holds the embedded exemplars. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	embedder  domain.Embedder
	threshold float64
	vectors   map[Category][][]float32
}

// NewClassifier embeds every exemplar once. Categories missing from ex fall
// back to the defaults. A non-positive threshold selects DefaultThreshold.
func NewClassifier(ctx context.Context, e domain.Embedder, ex Exemplars, threshold float64) (*Classifier, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	defaults := DefaultExemplars()
	c := &Classifier{embedder: e, threshold: threshold, vectors: make(map[Category][][]float32, len(Categories))}
	for _, cat := range Categories {
		phrases := ex[cat]
		if len(phrases) == 0 {
			phrases = defaults[cat]
		}
		vecs, err := embedding.EmbedAll(ctx, e, phrases, 4)
		if err != nil {
			return nil, fmt.Errorf("embedding %s exemplars: %w", cat, err)
		}
		c.vectors[cat] = vecs
	}
	return c, nil
}

// Classify reports whether utterance belongs to cat.
func (c *Classifier) Classify(ctx context.Context, utterance string, cat Category) (bool, error) {
	vec, err := c.embedder.Embed(ctx, utterance)
	if err != nil {
		return false, fmt.Errorf("embedding utterance: %w", err)
	}
	return c.matches(vec, cat), nil
}

// Detect evaluates every category against a single embedding of utterance.
func (c *Classifier) Detect(ctx context.Context, utterance string) (Labels, error) {
	vec, err := c.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, fmt.Errorf("embedding utterance: %w", err)
	}
	labels := make(Labels, len(Categories))
	for _, cat := range Categories {
		if c.matches(vec, cat) {
			labels[cat] = true
		}
	}
	return labels, nil
}

func (c *Classifier) matches(vec []float32, cat Category) bool {
	return embedding.MaxCosine(vec, c.vectors[cat]) > c.threshold
}

package tfidf

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultDimension is used when NewEmbedder is given a non-positive size.
const DefaultDimension = 1024

const trigramWeight = 0.5

// Embedder implements a TF-IDF vectorizer over a hashed vocabulary.
// Words and their character trigrams are hashed into a fixed number of
// buckets, so text never seen at Prepare time still embeds consistently.
// Without Prepare every bucket has IDF 1.
type Embedder struct {
	mu           sync.RWMutex
	dimension    int
	idf          []float64
	fingerprint  string
	prepared     bool
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates an unprepared embedder producing vectors of the given size.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

// Name identifies the embedder. Prepared embedders include a fingerprint of
// their IDF table so vectors from different preparations are never mixed.
func (e *Embedder) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.prepared {
		return "tfidf"
	}
	return "tfidf:" + e.fingerprint
}

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Prepare computes smoothed IDF values per bucket from the corpus. It may be
// called once; vectors must stay stable for the rest of the process.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepared {
		return errors.New("tfidf embedder already prepared")
	}
	df := make([]int, e.dimension)
	for _, text := range corpus {
		seen := make(map[int]struct{})
		for b := range e.features(text) {
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			df[b]++
		}
	}
	N := float64(len(corpus))
	e.idf = make([]float64, e.dimension)
	digest := xxhash.New()
	var buf [8]byte
	for i := range e.idf {
		e.idf[i] = math.Log((1+N)/(1+float64(df[i]))) + 1.0
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e.idf[i]))
		_, _ = digest.Write(buf[:])
	}
	e.fingerprint = fmt.Sprintf("%08x", uint32(digest.Sum64()))
	e.prepared = true
	return nil
}

// Embed computes the L2-normalized TF-IDF vector for text. Text without any
// usable token yields the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	idf := e.idf
	e.mu.RUnlock()

	acc := make([]float64, e.dimension)
	for b, w := range e.features(text) {
		if idf != nil {
			w *= idf[b]
		}
		acc[b] += w
	}
	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec, nil
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}

// features returns the weighted term frequency of every bucket touched by text.
func (e *Embedder) features(text string) map[int]float64 {
	out := make(map[int]float64)
	for _, tok := range e.tokenize(text) {
		out[e.bucket("w|"+tok)] += 1.0
		for _, tri := range trigrams(tok) {
			out[e.bucket("c|"+tri)] += trigramWeight
		}
	}
	return out
}

func (e *Embedder) bucket(feature string) int {
	return int(xxhash.Sum64String(feature) % uint64(e.dimension))
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// trigrams returns the character trigrams of "#tok#".
func trigrams(tok string) []string {
	r := []rune("#" + tok + "#")
	if len(r) < 3 {
		return nil
	}
	out := make([]string, 0, len(r)-2)
	for i := 0; i+3 <= len(r); i++ {
		out = append(out, string(r[i:i+3]))
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

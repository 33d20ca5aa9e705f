package summarizer

import (
	"cmp"
	"math"
	"regexp"
	"slices"
	"strings"
)

var (
	sentenceEnd = regexp.MustCompile(`[^.!?]+[.!?]+`)
	wordPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// FrequencySummarizer condenses merged search snippets by keeping the
// sentences whose content words recur most across the whole text.
type FrequencySummarizer struct {
	skip map[string]struct{}
}

func NewFrequencySummarizer() *FrequencySummarizer {
	skip := make(map[string]struct{}, len(fillerWords))
	for _, w := range fillerWords {
		skip[w] = struct{}{}
	}
	return &FrequencySummarizer{skip: skip}
}

// Summarize keeps at most maxSentences sentences in their original order.
// Text that is already short enough is only trimmed.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	parts := splitSentences(text)
	if len(parts) <= maxSentences {
		return strings.TrimSpace(text), nil
	}

	weights := s.wordWeights(parts)
	type ranked struct {
		pos   int
		score float64
	}
	order := make([]ranked, len(parts))
	for i, p := range parts {
		order[i] = ranked{pos: i, score: s.score(p, weights)}
	}
	slices.SortStableFunc(order, func(a, b ranked) int { return cmp.Compare(b.score, a.score) })

	keep := make([]int, 0, maxSentences)
	for _, r := range order[:maxSentences] {
		keep = append(keep, r.pos)
	}
	slices.Sort(keep)
	out := make([]string, len(keep))
	for i, pos := range keep {
		out[i] = parts[pos]
	}
	return strings.Join(out, " "), nil
}

// splitSentences splits on terminal punctuation. A trailing fragment without
// punctuation counts as a sentence.
func splitSentences(text string) []string {
	var parts []string
	for _, m := range sentenceEnd.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			parts = append(parts, m)
		}
	}
	tail := text[strings.LastIndexAny(text, ".!?")+1:]
	if tail = strings.TrimSpace(tail); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// wordWeights counts content words over all sentences, scaled so the most
// frequent word weighs 1.
func (s *FrequencySummarizer) wordWeights(parts []string) map[string]float64 {
	weights := map[string]float64{}
	top := 0.0
	for _, p := range parts {
		for _, w := range s.words(p) {
			weights[w]++
			top = max(top, weights[w])
		}
	}
	for w := range weights {
		weights[w] /= top
	}
	return weights
}

// score sums word weights, damped by sentence length.
func (s *FrequencySummarizer) score(sentence string, weights map[string]float64) float64 {
	words := wordPattern.FindAllString(strings.ToLower(sentence), -1)
	if len(words) == 0 {
		return 0
	}
	total := 0.0
	for _, w := range words {
		total += weights[w]
	}
	return total / math.Sqrt(float64(len(words)))
}

func (s *FrequencySummarizer) words(text string) []string {
	all := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := all[:0]
	for _, w := range all {
		if _, ok := s.skip[w]; !ok {
			out = append(out, w)
		}
	}
	return out
}

// fillerWords never count towards a sentence's score.
var fillerWords = []string{
	"a", "about", "after", "again", "also", "an", "and", "are", "as", "at",
	"be", "been", "before", "between", "but", "by", "can", "could", "did",
	"do", "does", "for", "from", "had", "has", "have", "he", "her", "his",
	"if", "in", "into", "is", "it", "its", "of", "on", "or", "over", "she",
	"so", "such", "than", "that", "the", "their", "then", "there", "these",
	"they", "this", "those", "to", "too", "under", "very", "was", "were",
	"what", "when", "which", "who", "will", "with", "would",
}

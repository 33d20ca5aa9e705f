package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShorten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"single sentence gains period", "Paris", 2, "Paris."},
		{"two sentences unchanged", "Paris is the capital. It is in France.", 2, "Paris is the capital. It is in France."},
		{"collapses repeated periods", "Paris is big... Really.", 2, "Paris is big. Really."},
		{"truncates", "One. Two. Three. Four.", 2, "One. Two."},
		{"no trailing period", "One. Two. Three", 2, "One. Two."},
		{"only punctuation", " ... ", 2, "..."},
		{"disabled", "  One. Two. Three. ", 0, "One. Two. Three."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Shorten(tt.in, tt.max))
		})
	}
}

func TestShorten_AtMostTwoSentencesIsNoOpModuloPunctuation(t *testing.T) {
	for _, in := range []string{"Lyon", "Lyon.", "Lyon is a city. It has food."} {
		out := Shorten(in, 2)
		assert.Equal(t, Shorten(out, 2), out, "shorten must be idempotent")
		assert.Contains(t, out, "Lyon")
	}
}

func TestFrequencySummarizer_KeepsShortTextIntact(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.Summarize("Paris is the capital of France. It is large.", 3)
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France. It is large.", out)
}

func TestFrequencySummarizer_PicksFrequentSentencesInOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Paris is the capital of France. " +
		"Bananas are yellow. " +
		"Paris hosts the French government in France. " +
		"Clouds drift slowly."
	out, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France. Paris hosts the French government in France.", out)
}

func TestFrequencySummarizer_NoPunctuation(t *testing.T) {
	out, err := NewFrequencySummarizer().Summarize("  plain words  ", 2)
	require.NoError(t, err)
	assert.Equal(t, "plain words", out)
}

// Package summarizer shortens and condenses answer text for display.
package summarizer

import "strings"

// Shorten keeps at most maxSentences sentences of text, splitting on '.', and
// re-terminates the result with a single period. Text without any sentence
// content is returned trimmed.
func Shorten(text string, maxSentences int) string {
	if maxSentences <= 0 {
		return strings.TrimSpace(text)
	}
	parts := strings.Split(text, ".")
	kept := make([]string, 0, maxSentences)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		kept = append(kept, p)
		if len(kept) == maxSentences {
			break
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(kept, ". ") + "."
}

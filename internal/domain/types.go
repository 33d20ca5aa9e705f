package domain

import "strings"

// QARecord is a taught question with its ordered set of answers.
type QARecord struct {
	Question string   `json:"question" yaml:"question"`
	Answers  []string `json:"answers" yaml:"answers"`
}

// AddAnswer appends answer unless an equal answer (case-insensitive, after
// trimming) is already present. It reports whether the set changed.
func (r *QARecord) AddAnswer(answer string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}
	for _, a := range r.Answers {
		if strings.EqualFold(strings.TrimSpace(a), answer) {
			return false
		}
	}
	r.Answers = append(r.Answers, answer)
	return true
}

// NonEmptyAnswers returns the answers with blank entries removed.
func (r QARecord) NonEmptyAnswers() []string {
	out := make([]string, 0, len(r.Answers))
	for _, a := range r.Answers {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// IndexEntry is one searchable question in the retrieval index.
type IndexEntry struct {
	Vector   []float32
	Question string
	Answers  []string
}

// Snapshot is a persisted index together with the embedder that produced it.
type Snapshot struct {
	Embedder  string
	Dimension int
	Entries   []IndexEntry
}

// Pair is a single question/answer teaching input.
type Pair struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// ConversationState tracks the correction loop of one session.
// Empty strings stand for "unknown".
type ConversationState struct {
	PendingCorrection  bool
	LastFailedQuestion string
	LastRealQuestion   string
	LastQuery          string
	LastAnswer         string
}

// Valid reports whether the pending-correction invariant holds.
func (s ConversationState) Valid() bool {
	return !s.PendingCorrection || s.LastFailedQuestion != ""
}

// Source identifies where a conversation response came from.
type Source string

const (
	SourceLocal     Source = "local"
	SourceExternal  Source = "external"
	SourceLearned   Source = "learned"
	SourceCancelled Source = "cancelled"
	SourceSkip      Source = "skip"
	SourceNone      Source = "none"
)

// Normalize trims and lowercases question text.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

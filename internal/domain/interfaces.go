package domain

import "context"

// Embedder converts free text into a numeric vector representation.
// Implementations must return identical vectors for identical input within
// a process lifetime.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeStore persists question/answer records keyed by normalized question.
type KnowledgeStore interface {
	ListAll(ctx context.Context) ([]QARecord, error)
	// FindByQuestion returns the record for the normalized question, or
	// found=false when there is none.
	FindByQuestion(ctx context.Context, question string) (rec QARecord, found bool, err error)
	Upsert(ctx context.Context, rec QARecord) error
}

// Searcher looks a query up in an external source and returns a free-text
// snippet, or "" when nothing was found.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Snapshotter persists a built index so it can be restored without
// re-embedding every record.
type Snapshotter interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns ErrNoSnapshot when nothing has been saved yet.
	Load(ctx context.Context) (Snapshot, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Package retrieval answers questions from the taught knowledge base and
// writes new answers back into it.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"learnbot/internal/domain"
	"learnbot/internal/index"
	"learnbot/internal/observability"
	"learnbot/internal/summarizer"
)

// Config holds the retrieval policy values.
type Config struct {
	// MatchThreshold is the minimum cosine similarity of a match.
	MatchThreshold float64
	// TieBand is how far below the top score a match still counts as tied.
	TieBand float64
	// MaxMultiple caps the answers joined for expand requests.
	MaxMultiple int
	// ShortSentences caps the sentences of a shortened answer.
	ShortSentences int
	// BuildWorkers bounds concurrent embedding calls during a rebuild.
	BuildWorkers int
}

// DefaultConfig returns the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		MatchThreshold: 0.45,
		TieBand:        0.01,
		MaxMultiple:    3,
		ShortSentences: 2,
		BuildWorkers:   4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = d.MatchThreshold
	}
	if c.TieBand < 0 {
		c.TieBand = d.TieBand
	}
	if c.MaxMultiple <= 0 {
		c.MaxMultiple = d.MaxMultiple
	}
	if c.ShortSentences <= 0 {
		c.ShortSentences = d.ShortSentences
	}
	if c.BuildWorkers <= 0 {
		c.BuildWorkers = d.BuildWorkers
	}
	return c
}

// Options adjusts a single retrieval.
type Options struct {
	// ExcludeAnswer is skipped among tied answers when an alternative exists.
	ExcludeAnswer string
	// ReturnMultiple joins several distinct matched answers.
	ReturnMultiple bool
	// Short truncates the result to Config.ShortSentences sentences.
	Short bool
}

// BulkResult summarizes a TeachBulk call.
type BulkResult struct {
	Added      int
	Duplicates int
	Skipped    int
}

// Engine owns the retrieval index. Reads are lock-free; write-backs and
// rebuilds are serialized.
type Engine struct {
	embedder  domain.Embedder
	store     domain.KnowledgeStore
	snapshots domain.Snapshotter
	cfg       Config
	logger    *zap.Logger

	index   index.Holder
	writeMu sync.Mutex
	// stale is set while the store holds writes the index has not seen
	// because the last rebuild failed. Guarded by writeMu.
	stale bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the random source used to break ties.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithSnapshotter persists every built index and restores it on Load.
func WithSnapshotter(s domain.Snapshotter) Option {
	return func(e *Engine) { e.snapshots = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine with an empty index. Call Load or Rebuild before
// expecting matches.
func New(embedder domain.Embedder, store domain.KnowledgeStore, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("retrieval")
	return e
}

// Size returns the number of indexed questions.
func (e *Engine) Size() int { return e.index.Load().Len() }

// Load restores a compatible snapshot, or rebuilds the index from the store
// when there is none.
func (e *Engine) Load(ctx context.Context) error {
	if e.snapshots != nil {
		snap, err := e.snapshots.Load(ctx)
		switch {
		case errors.Is(err, domain.ErrNoSnapshot):
			e.logger.Info("no index snapshot, rebuilding")
		case err != nil:
			e.logger.Warn("loading index snapshot failed, rebuilding", zap.Error(err))
		default:
			ix, ierr := index.FromSnapshot(snap)
			if ierr == nil && ix.Compatible(e.embedder.Name(), e.embedder.Dimension()) {
				e.index.Store(ix)
				observability.RecordIndex("snapshot", ix.Len())
				e.logger.Info("index restored from snapshot", zap.Int("entries", ix.Len()))
				return nil
			}
			e.logger.Info("index snapshot is stale, rebuilding",
				zap.String("snapshot_embedder", snap.Embedder),
				zap.String("embedder", e.embedder.Name()),
				zap.Error(ierr))
		}
	}
	return e.Rebuild(ctx)
}

// Rebuild re-embeds every stored record and swaps in the new index. On
// failure the previous index stays in place.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.rebuildLocked(ctx)
}

func (e *Engine) rebuildLocked(ctx context.Context) error {
	start := time.Now()
	records, err := e.store.ListAll(ctx)
	if err != nil {
		e.stale = true
		observability.RecordIndex("error", 0)
		return fmt.Errorf("listing records: %w", err)
	}
	ix, err := index.Build(ctx, e.embedder, records, e.cfg.BuildWorkers)
	if err != nil {
		e.stale = true
		observability.RecordIndex("error", 0)
		return err
	}
	e.index.Store(ix)
	e.stale = false
	observability.RecordIndex("success", ix.Len())
	e.logger.Debug("index rebuilt", zap.Int("entries", ix.Len()), zap.Duration("took", time.Since(start)))

	if e.snapshots != nil {
		if err := e.snapshots.Save(ctx, ix.Snapshot()); err != nil {
			e.logger.Warn("saving index snapshot failed", zap.Error(err))
		}
	}
	return nil
}

type candidate struct {
	answer string
	score  float64
}

// Retrieve returns the best stored answer for query. found is false when no
// entry reaches the match threshold, including when no index is built.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) (answer string, found bool, err error) {
	start := time.Now()
	defer func() { observability.RecordRetrieval(time.Since(start), found, err) }()

	q := domain.Normalize(query)
	if q == "" {
		return "", false, domain.ErrEmptyQuestion
	}
	ix := e.index.Load()
	if ix.Len() == 0 {
		return "", false, nil
	}
	vec, err := e.embedder.Embed(ctx, q)
	if err != nil {
		return "", false, fmt.Errorf("embedding query: %w", err)
	}
	matches := ix.Search(vec, e.cfg.MatchThreshold)
	if len(matches) == 0 {
		e.logger.Debug("no match", zap.String("query", q))
		return "", false, nil
	}

	if opts.ReturnMultiple {
		answer = e.joinDistinct(matches)
	} else {
		answer = e.pickTied(matches, opts.ExcludeAnswer)
	}
	if opts.Short {
		answer = summarizer.Shorten(answer, e.cfg.ShortSentences)
	}
	e.logger.Debug("match",
		zap.String("query", q),
		zap.String("question", matches[0].Entry.Question),
		zap.Float64("score", matches[0].Score))
	return answer, true, nil
}

// joinDistinct joins up to MaxMultiple case-insensitively distinct answers
// in score order.
func (e *Engine) joinDistinct(matches []index.Match) string {
	var out []string
	for _, m := range matches {
		for _, a := range m.Entry.Answers {
			dup := false
			for _, seen := range out {
				if strings.EqualFold(seen, a) {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			out = append(out, a)
			if len(out) == e.cfg.MaxMultiple {
				return strings.Join(out, " ")
			}
		}
	}
	return strings.Join(out, " ")
}

// pickTied shuffles every answer of the entries tied with the top score and
// returns the first one that differs from exclude. When all of them equal
// exclude the first shuffled answer is returned anyway.
func (e *Engine) pickTied(matches []index.Match, exclude string) string {
	top := matches[0].Score
	var tied []candidate
	for _, m := range matches {
		if top-m.Score > e.cfg.TieBand {
			break
		}
		for _, a := range m.Entry.Answers {
			tied = append(tied, candidate{answer: a, score: m.Score})
		}
	}
	e.rngMu.Lock()
	e.rng.Shuffle(len(tied), func(i, j int) { tied[i], tied[j] = tied[j], tied[i] })
	e.rngMu.Unlock()

	exclude = strings.TrimSpace(exclude)
	if exclude == "" {
		return tied[0].answer
	}
	for _, c := range tied {
		if !strings.EqualFold(strings.TrimSpace(c.answer), exclude) {
			return c.answer
		}
	}
	return tied[0].answer
}

// Teach records answer for question and rebuilds the index. added is false
// when the answer was already known, in which case nothing is written. A
// known answer still triggers a rebuild when an earlier rebuild failed, so
// a retried teach always leaves the answer retrievable.
func (e *Engine) Teach(ctx context.Context, question, answer string) (added bool, err error) {
	q, a, err := validatePair(question, answer)
	if err != nil {
		return false, err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	added, err = e.merge(ctx, q, a)
	if err != nil {
		return false, err
	}
	if !added && !e.stale {
		return false, nil
	}
	if err := e.rebuildLocked(ctx); err != nil {
		return added, fmt.Errorf("rebuilding index: %w", err)
	}
	if !added {
		return false, nil
	}
	e.logger.Info("learned answer", zap.String("question", q))
	return true, nil
}

// TeachBulk records many pairs and rebuilds the index once. Invalid pairs
// are skipped; ErrNoValidPairs is returned when none remain.
func (e *Engine) TeachBulk(ctx context.Context, pairs []domain.Pair) (BulkResult, error) {
	var res BulkResult
	type valid struct{ q, a string }
	var todo []valid
	for _, p := range pairs {
		q, a, err := validatePair(p.Question, p.Answer)
		if err != nil {
			res.Skipped++
			continue
		}
		todo = append(todo, valid{q, a})
	}
	if len(todo) == 0 {
		return res, domain.ErrNoValidPairs
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	for _, p := range todo {
		added, err := e.merge(ctx, p.q, p.a)
		if err != nil {
			return res, err
		}
		if added {
			res.Added++
		} else {
			res.Duplicates++
		}
	}
	if res.Added == 0 && !e.stale {
		return res, nil
	}
	if err := e.rebuildLocked(ctx); err != nil {
		return res, fmt.Errorf("rebuilding index: %w", err)
	}
	e.logger.Info("bulk teach", zap.Int("added", res.Added), zap.Int("duplicates", res.Duplicates), zap.Int("skipped", res.Skipped))
	return res, nil
}

// merge appends a to the record of q. The caller holds writeMu.
func (e *Engine) merge(ctx context.Context, q, a string) (bool, error) {
	rec, found, err := e.store.FindByQuestion(ctx, q)
	if err != nil {
		return false, fmt.Errorf("finding record: %w", err)
	}
	if !found {
		rec = domain.QARecord{Question: q}
	}
	if !rec.AddAnswer(a) {
		return false, nil
	}
	if err := e.store.Upsert(ctx, rec); err != nil {
		return false, fmt.Errorf("storing record: %w", err)
	}
	return true, nil
}

func validatePair(question, answer string) (string, string, error) {
	q := domain.Normalize(question)
	a := strings.TrimSpace(answer)
	switch {
	case q == "":
		return "", "", domain.ErrEmptyQuestion
	case a == "":
		return "", "", domain.ErrEmptyAnswer
	case domain.Normalize(a) == q:
		return "", "", domain.ErrSelfReference
	}
	return q, a, nil
}

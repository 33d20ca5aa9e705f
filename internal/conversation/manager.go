// Package conversation runs the per-session question, feedback and
// correction dialogue on top of the retrieval engine.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"learnbot/internal/domain"
	"learnbot/internal/intent"
	"learnbot/internal/observability"
	"learnbot/internal/retrieval"
)

// Engine is the retrieval side the manager drives.
type Engine interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) (string, bool, error)
	Teach(ctx context.Context, question, answer string) (bool, error)
	TeachBulk(ctx context.Context, pairs []domain.Pair) (retrieval.BulkResult, error)
}

// IntentDetector labels an utterance.
type IntentDetector interface {
	Detect(ctx context.Context, utterance string) (intent.Labels, error)
}

// Request is one user utterance. LastQuestion and LastAnswer are what the
// client displayed last, if anything.
type Request struct {
	SessionID    string
	Question     string
	LastQuestion string
	LastAnswer   string
}

// Response is the outcome of a turn.
type Response struct {
	Answer  string
	Message string
	Source  domain.Source
	// Query is the normalized question the answer or miss refers to.
	Query string
	// CanTeach and CanSearch offer the user to teach or look up a missed question.
	CanTeach  bool
	CanSearch bool
	// CanReteach marks an answer the user may correct.
	CanReteach         bool
	AwaitingCorrection bool
}

const (
	msgMiss      = "I couldn't find an answer. Teach me or search for it."
	msgCancelled = "Okay, never mind."
)

// Manager is safe for concurrent use. Turns of one session are serialized.
type Manager struct {
	engine   Engine
	intents  IntentDetector
	searcher domain.Searcher
	logger   *zap.Logger
	sessions *arena
}

// NewManager creates a manager. searcher may be nil to disable external
// lookups.
func NewManager(engine Engine, intents IntentDetector, searcher domain.Searcher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engine:   engine,
		intents:  intents,
		searcher: searcher,
		logger:   logger.Named("conversation"),
		sessions: newArena(),
	}
}

// Handle runs one turn. On error the session state is left as it was before
// the turn, so the request can be retried.
func (m *Manager) Handle(ctx context.Context, req Request) (Response, error) {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return Response{}, domain.ErrEmptyQuestion
	}
	s := m.sessions.acquire(req.SessionID)
	defer m.sessions.release(s)

	labels, err := m.intents.Detect(ctx, q)
	if err != nil {
		observability.RecordTurn("error")
		return Response{}, fmt.Errorf("detecting intent: %w", err)
	}
	resp, next, err := m.turn(ctx, s.state, labels, q, req)
	if err != nil {
		observability.RecordTurn("error")
		m.logger.Warn("turn failed", zap.String("session", req.SessionID), zap.Error(err))
		return Response{}, err
	}
	s.state = next
	resp.AwaitingCorrection = next.PendingCorrection
	observability.RecordTurn(string(resp.Source))
	return resp, nil
}

// turn computes the response and the next state from the current one.
func (m *Manager) turn(ctx context.Context, state domain.ConversationState, labels intent.Labels, q string, req Request) (Response, domain.ConversationState, error) {
	next := state

	if labels.Has(intent.CasualFollowup) {
		return Response{Source: domain.SourceSkip}, next, nil
	}

	if state.PendingCorrection {
		if labels.Has(intent.CancelFeedback) {
			next.PendingCorrection = false
			next.LastFailedQuestion = ""
			return Response{Source: domain.SourceCancelled, Message: msgCancelled}, next, nil
		}
		question := state.LastFailedQuestion
		if domain.Normalize(q) == domain.Normalize(question) {
			return Response{}, state, domain.ErrSelfReference
		}
		if _, err := m.engine.Teach(ctx, question, q); err != nil {
			return Response{}, state, fmt.Errorf("learning correction: %w", err)
		}
		next.PendingCorrection = false
		next.LastFailedQuestion = ""
		m.logger.Info("learned correction", zap.String("question", question))
		return Response{
			Source:  domain.SourceLearned,
			Message: fmt.Sprintf("Learned: %q → %q", question, q),
		}, next, nil
	}

	if labels.Has(intent.NegativeFeedback) {
		target := state.LastRealQuestion
		if target == "" {
			target = domain.Normalize(req.LastQuestion)
		}
		if target == "" {
			return Response{}, state, domain.ErrNothingToCorrect
		}
		next.PendingCorrection = true
		next.LastFailedQuestion = target
		return Response{
			Source:  domain.SourceNone,
			Message: fmt.Sprintf("Sorry about that. What is the correct answer to %q?", target),
		}, next, nil
	}

	shorten := labels.Has(intent.ShortenCommand)
	expand := labels.Has(intent.ExpandCommand)
	effective := q
	if shorten || expand {
		switch {
		case strings.TrimSpace(req.LastQuestion) != "":
			effective = req.LastQuestion
		case state.LastRealQuestion != "":
			effective = state.LastRealQuestion
		}
	}
	effective = domain.Normalize(effective)
	next.LastRealQuestion = effective

	answer, found, err := m.engine.Retrieve(ctx, effective, retrieval.Options{
		ExcludeAnswer:  req.LastAnswer,
		ReturnMultiple: expand,
		Short:          shorten,
	})
	if err != nil {
		return Response{}, state, fmt.Errorf("retrieving answer: %w", err)
	}
	if found {
		next.LastQuery = effective
		next.LastAnswer = answer
		return Response{Answer: answer, Source: domain.SourceLocal, Query: effective, CanReteach: true}, next, nil
	}

	result, err := m.lookup(ctx, effective)
	if err != nil {
		return Response{}, state, err
	}
	if result == "" {
		next.LastFailedQuestion = effective
		return Response{Source: domain.SourceNone, Message: msgMiss, Query: effective, CanTeach: true, CanSearch: true}, next, nil
	}
	next.LastQuery = effective
	next.LastAnswer = result
	return Response{Answer: result, Source: domain.SourceExternal, Query: effective, CanReteach: true}, next, nil
}

// lookup searches externally and writes a result back into the knowledge
// base. Search and write-back failures are logged and never fail the turn;
// only cancellation of ctx does.
func (m *Manager) lookup(ctx context.Context, question string) (string, error) {
	if m.searcher == nil {
		return "", nil
	}
	result, err := m.searcher.Search(ctx, question)
	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}
	if err != nil {
		m.logger.Warn("external search failed", zap.String("question", question), zap.Error(err))
		return "", nil
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return "", nil
	}
	if _, err := m.engine.Teach(ctx, question, result); err != nil {
		m.logger.Warn("storing search result failed", zap.String("question", question), zap.Error(err))
	}
	return result, nil
}

// Teach stores an answer given explicitly by the user.
func (m *Manager) Teach(ctx context.Context, question, answer string) (Response, error) {
	added, err := m.engine.Teach(ctx, question, answer)
	if err != nil {
		return Response{}, err
	}
	msg := "Learned successfully!"
	if !added {
		msg = "I already knew that."
	}
	return Response{Source: domain.SourceLearned, Message: msg}, nil
}

// TeachBulk stores many pairs with a single index rebuild.
func (m *Manager) TeachBulk(ctx context.Context, pairs []domain.Pair) (retrieval.BulkResult, error) {
	return m.engine.TeachBulk(ctx, pairs)
}

// Regenerate returns a different stored answer to question than lastAnswer
// when one exists.
func (m *Manager) Regenerate(ctx context.Context, question, lastAnswer string) (Response, error) {
	q := domain.Normalize(question)
	if q == "" {
		return Response{}, domain.ErrEmptyQuestion
	}
	answer, found, err := m.engine.Retrieve(ctx, q, retrieval.Options{ExcludeAnswer: lastAnswer})
	if err != nil {
		return Response{}, fmt.Errorf("retrieving answer: %w", err)
	}
	if !found {
		return Response{Source: domain.SourceNone, Message: msgMiss, Query: q, CanTeach: true, CanSearch: true}, nil
	}
	return Response{Answer: answer, Source: domain.SourceLocal, Query: q, CanReteach: true}, nil
}

// SearchAndLearn looks question up externally on explicit request and
// stores the result. A session whose last miss was question is updated as if
// the turn had been answered.
func (m *Manager) SearchAndLearn(ctx context.Context, sessionID, question string) (Response, error) {
	q := domain.Normalize(question)
	if q == "" {
		return Response{}, domain.ErrEmptyQuestion
	}
	s := m.sessions.acquire(sessionID)
	defer m.sessions.release(s)

	result, err := m.lookup(ctx, q)
	if err != nil {
		return Response{}, err
	}
	if result == "" {
		observability.RecordTurn(string(domain.SourceNone))
		return Response{Source: domain.SourceNone, Message: "Nothing found.", Query: q, CanTeach: true, AwaitingCorrection: s.state.PendingCorrection}, nil
	}
	if !s.state.PendingCorrection && s.state.LastFailedQuestion == q {
		s.state.LastFailedQuestion = ""
	}
	s.state.LastRealQuestion = q
	s.state.LastQuery = q
	s.state.LastAnswer = result
	observability.RecordTurn(string(domain.SourceExternal))
	return Response{Answer: result, Source: domain.SourceExternal, Query: q, CanReteach: true, AwaitingCorrection: s.state.PendingCorrection}, nil
}

// State returns a copy of the state of a session.
func (m *Manager) State(sessionID string) domain.ConversationState {
	return m.sessions.peek(sessionID)
}

// PruneSessions forgets sessions idle for longer than idle.
func (m *Manager) PruneSessions(idle time.Duration) int {
	n := m.sessions.prune(idle)
	if n > 0 {
		m.logger.Debug("pruned idle sessions", zap.Int("count", n), zap.Int("remaining", m.sessions.len()))
	}
	return n
}

// RunJanitor prunes idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.PruneSessions(idle)
		}
	}
}

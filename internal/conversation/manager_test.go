package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbot/internal/domain"
	"learnbot/internal/embedding/tfidf"
	"learnbot/internal/intent"
	"learnbot/internal/knowledge/memory"
	"learnbot/internal/retrieval"
)

// scriptedIntents labels known utterances and leaves the rest unlabeled.
type scriptedIntents struct {
	labels map[string][]intent.Category
	err    error
}

func (s scriptedIntents) Detect(_ context.Context, utterance string) (intent.Labels, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := intent.Labels{}
	for _, c := range s.labels[utterance] {
		out[c] = true
	}
	return out, nil
}

var defaultIntents = scriptedIntents{labels: map[string][]intent.Category{
	"thanks":        {intent.CasualFollowup},
	"that's wrong":  {intent.NegativeFeedback},
	"nevermind":     {intent.CancelFeedback},
	"keep it short": {intent.ShortenCommand},
	"tell me more":  {intent.ExpandCommand},
}}

type stubSearcher struct {
	mu      sync.Mutex
	results map[string]string
	err     error
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, q string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	return s.results[q], s.err
}

// flakyStore fails every Upsert while failing is set.
type flakyStore struct {
	*memory.Store
	failing bool
}

func (f *flakyStore) Upsert(ctx context.Context, rec domain.QARecord) error {
	if f.failing {
		return errors.New("store offline")
	}
	return f.Store.Upsert(ctx, rec)
}

type fixture struct {
	mgr      *Manager
	engine   *retrieval.Engine
	store    *flakyStore
	searcher *stubSearcher
}

func newFixture(t *testing.T, records ...domain.QARecord) *fixture {
	t.Helper()
	store := &flakyStore{Store: memory.NewStore(records...)}
	engine := retrieval.New(tfidf.NewEmbedder(0), store, retrieval.DefaultConfig())
	require.NoError(t, engine.Rebuild(context.Background()))
	searcher := &stubSearcher{results: map[string]string{}}
	return &fixture{
		mgr:      NewManager(engine, defaultIntents, searcher, nil),
		engine:   engine,
		store:    store,
		searcher: searcher,
	}
}

func (f *fixture) ask(t *testing.T, req Request) Response {
	t.Helper()
	if req.SessionID == "" {
		req.SessionID = "s1"
	}
	resp, err := f.mgr.Handle(context.Background(), req)
	require.NoError(t, err)
	require.True(t, f.mgr.State(req.SessionID).Valid())
	return resp
}

const franceQ = "what is the capital of france"

func TestHandle_TeachAskMiss(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Teach(context.Background(), franceQ, "Paris")
	require.NoError(t, err)

	resp := f.ask(t, Request{Question: "Capital of France?"})
	assert.Equal(t, domain.SourceLocal, resp.Source)
	assert.Equal(t, "Paris", resp.Answer)
	assert.Equal(t, "capital of france?", resp.Query)
	assert.True(t, resp.CanReteach)

	resp = f.ask(t, Request{Question: "who painted the mona lisa"})
	assert.Equal(t, domain.SourceNone, resp.Source)
	assert.Equal(t, "who painted the mona lisa", resp.Query)
	assert.True(t, resp.CanTeach)
	assert.True(t, resp.CanSearch)
	assert.False(t, resp.AwaitingCorrection)

	state := f.mgr.State("s1")
	assert.Equal(t, "who painted the mona lisa", state.LastFailedQuestion)
	assert.Equal(t, "who painted the mona lisa", state.LastRealQuestion)
	assert.False(t, state.PendingCorrection)
	assert.Equal(t, "Paris", state.LastAnswer)
}

func TestHandle_CorrectionLoop(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Lyon"}})

	resp := f.ask(t, Request{Question: franceQ})
	require.Equal(t, "Lyon", resp.Answer)

	resp = f.ask(t, Request{Question: "that's wrong", LastQuestion: franceQ, LastAnswer: "Lyon"})
	assert.Equal(t, domain.SourceNone, resp.Source)
	assert.True(t, resp.AwaitingCorrection)
	assert.Contains(t, resp.Message, franceQ)

	state := f.mgr.State("s1")
	assert.True(t, state.PendingCorrection)
	assert.Equal(t, franceQ, state.LastFailedQuestion)

	resp = f.ask(t, Request{Question: "Paris"})
	assert.Equal(t, domain.SourceLearned, resp.Source)
	assert.Equal(t, fmt.Sprintf("Learned: %q → %q", franceQ, "Paris"), resp.Message)
	assert.False(t, resp.AwaitingCorrection)

	state = f.mgr.State("s1")
	assert.False(t, state.PendingCorrection)
	assert.Empty(t, state.LastFailedQuestion)

	rec, found, err := f.store.FindByQuestion(context.Background(), franceQ)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"Lyon", "Paris"}, rec.Answers)

	resp = f.ask(t, Request{Question: franceQ, LastQuestion: franceQ, LastAnswer: "Lyon"})
	assert.Equal(t, "Paris", resp.Answer)
}

func TestHandle_Cancellation(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Lyon"}})
	f.ask(t, Request{Question: franceQ})
	f.ask(t, Request{Question: "that's wrong"})
	require.True(t, f.mgr.State("s1").PendingCorrection)

	resp := f.ask(t, Request{Question: "nevermind"})
	assert.Equal(t, domain.SourceCancelled, resp.Source)
	assert.False(t, resp.AwaitingCorrection)

	state := f.mgr.State("s1")
	assert.False(t, state.PendingCorrection)
	assert.Empty(t, state.LastFailedQuestion)

	rec, _, err := f.store.FindByQuestion(context.Background(), franceQ)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lyon"}, rec.Answers)
}

func TestHandle_SelfReferenceKeepsPending(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Lyon"}})
	f.ask(t, Request{Question: franceQ})
	f.ask(t, Request{Question: "that's wrong"})

	_, err := f.mgr.Handle(context.Background(), Request{SessionID: "s1", Question: "What is the capital of France "})
	assert.ErrorIs(t, err, domain.ErrSelfReference)
	assert.True(t, domain.IsUserError(err))
	assert.True(t, f.mgr.State("s1").PendingCorrection)
}

func TestHandle_FailedWriteBackKeepsPending(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Lyon"}})
	f.ask(t, Request{Question: franceQ})
	f.ask(t, Request{Question: "that's wrong"})

	f.store.failing = true
	_, err := f.mgr.Handle(context.Background(), Request{SessionID: "s1", Question: "Paris"})
	assert.ErrorContains(t, err, "store offline")
	assert.False(t, domain.IsUserError(err))
	state := f.mgr.State("s1")
	assert.True(t, state.PendingCorrection)
	assert.Equal(t, franceQ, state.LastFailedQuestion)

	f.store.failing = false
	resp := f.ask(t, Request{Question: "Paris"})
	assert.Equal(t, domain.SourceLearned, resp.Source)
}

func TestHandle_NegativeFeedbackNeedsAQuestion(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Handle(context.Background(), Request{SessionID: "fresh", Question: "that's wrong"})
	assert.ErrorIs(t, err, domain.ErrNothingToCorrect)
	assert.Equal(t, domain.ConversationState{}, f.mgr.State("fresh"))

	resp := f.ask(t, Request{SessionID: "fresh", Question: "that's wrong", LastQuestion: "  Capital of Spain "})
	assert.True(t, resp.AwaitingCorrection)
	assert.Equal(t, "capital of spain", f.mgr.State("fresh").LastFailedQuestion)
}

func TestHandle_CasualIsSkipped(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Paris"}})
	f.ask(t, Request{Question: franceQ})
	before := f.mgr.State("s1")

	resp := f.ask(t, Request{Question: "thanks"})
	assert.Equal(t, domain.SourceSkip, resp.Source)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, before, f.mgr.State("s1"))
}

func TestHandle_ShortenAndExpandUseLastQuestion(t *testing.T) {
	f := newFixture(t,
		domain.QARecord{Question: franceQ, Answers: []string{"Paris is the capital. It is big. It is old."}},
		domain.QARecord{Question: "capital city of france", Answers: []string{"It is Paris."}},
	)

	resp := f.ask(t, Request{Question: "keep it short", LastQuestion: franceQ})
	assert.Equal(t, domain.SourceLocal, resp.Source)
	assert.Equal(t, "Paris is the capital. It is big.", resp.Answer)
	assert.Equal(t, franceQ, f.mgr.State("s1").LastRealQuestion)

	// Without a client-side question the session's last question is used.
	resp = f.ask(t, Request{Question: "tell me more"})
	assert.Equal(t, "Paris is the capital. It is big. It is old. It is Paris.", resp.Answer)
}

func TestHandle_ExternalSearchWritesBack(t *testing.T) {
	f := newFixture(t)
	f.searcher.results["who painted the mona lisa"] = "Leonardo da Vinci painted it."

	resp := f.ask(t, Request{Question: "Who painted the Mona Lisa"})
	assert.Equal(t, domain.SourceExternal, resp.Source)
	assert.Equal(t, "Leonardo da Vinci painted it.", resp.Answer)
	assert.True(t, resp.CanReteach)

	resp = f.ask(t, Request{Question: "who painted the mona lisa"})
	assert.Equal(t, domain.SourceLocal, resp.Source)
	assert.Len(t, f.searcher.queries, 1)
}

func TestHandle_SearchFailureIsNoResult(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = errors.New("network down")

	resp := f.ask(t, Request{Question: "who painted the mona lisa"})
	assert.Equal(t, domain.SourceNone, resp.Source)
	assert.True(t, resp.CanTeach)
}

func TestHandle_DetectorFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.mgr.intents = scriptedIntents{err: errors.New("embedder offline")}

	_, err := f.mgr.Handle(context.Background(), Request{SessionID: "s1", Question: "anything"})
	assert.ErrorContains(t, err, "embedder offline")
	assert.Equal(t, domain.ConversationState{}, f.mgr.State("s1"))
}

func TestHandle_CancelledContextLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Paris"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.mgr.Handle(ctx, Request{SessionID: "s1", Question: franceQ})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.ConversationState{}, f.mgr.State("s1"))
}

func TestHandle_EmptyQuestion(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Handle(context.Background(), Request{Question: "  "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
}

func TestHandle_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Lyon"}})
	f.ask(t, Request{SessionID: "a", Question: franceQ})
	f.ask(t, Request{SessionID: "a", Question: "that's wrong"})

	resp := f.ask(t, Request{SessionID: "b", Question: "Paris"})
	assert.NotEqual(t, domain.SourceLearned, resp.Source)
	assert.True(t, f.mgr.State("a").PendingCorrection)
	assert.False(t, f.mgr.State("b").PendingCorrection)
}

func TestHandle_ConcurrentTurnsKeepInvariant(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Lyon"}})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := []string{franceQ, "that's wrong", "Paris", "nevermind"}[i%4]
			f.mgr.Handle(context.Background(), Request{SessionID: "shared", Question: q, LastQuestion: franceQ})
		}()
	}
	wg.Wait()
	assert.True(t, f.mgr.State("shared").Valid())
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t, domain.QARecord{Question: franceQ, Answers: []string{"Paris", "Lutetia"}})
	for range 10 {
		resp, err := f.mgr.Regenerate(context.Background(), franceQ, "Paris")
		require.NoError(t, err)
		assert.Equal(t, "Lutetia", resp.Answer)
	}
	resp, err := f.mgr.Regenerate(context.Background(), "unknown things", "")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceNone, resp.Source)
}

func TestSearchAndLearn(t *testing.T) {
	f := newFixture(t)
	f.ask(t, Request{Question: "who painted the mona lisa"})
	require.Equal(t, "who painted the mona lisa", f.mgr.State("s1").LastFailedQuestion)

	f.searcher.results["who painted the mona lisa"] = "Leonardo da Vinci."
	resp, err := f.mgr.SearchAndLearn(context.Background(), "s1", "Who painted the Mona Lisa")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceExternal, resp.Source)
	assert.Empty(t, f.mgr.State("s1").LastFailedQuestion)

	rec, found, err := f.store.FindByQuestion(context.Background(), "who painted the mona lisa")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"Leonardo da Vinci."}, rec.Answers)

	_, err = f.mgr.SearchAndLearn(context.Background(), "s1", " ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
}

func TestTeachBulkAndTeach(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.TeachBulk(context.Background(), []domain.Pair{
		{Question: "a question", Answer: "an answer"},
		{Question: "", Answer: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Skipped)

	resp, err := f.mgr.Teach(context.Background(), "a question", "an answer")
	require.NoError(t, err)
	assert.Equal(t, "I already knew that.", resp.Message)
}

func TestPruneSessions(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.mgr.sessions.now = func() time.Time { return now }
	f.ask(t, Request{SessionID: "old", Question: "thanks"})

	now = now.Add(time.Hour)
	f.ask(t, Request{SessionID: "new", Question: "thanks"})

	assert.Equal(t, 1, f.mgr.PruneSessions(30*time.Minute))
	assert.Equal(t, 1, f.mgr.sessions.len())
}

// TestHandle_ScenariosWithClassifier drives the dialogue through the real
// exemplar classifier instead of scripted labels.
func TestHandle_ScenariosWithClassifier(t *testing.T) {
	ctx := context.Background()
	emb := tfidf.NewEmbedder(0)
	store := memory.NewStore()
	engine := retrieval.New(emb, store, retrieval.DefaultConfig())
	require.NoError(t, engine.Rebuild(ctx))
	classifier, err := intent.NewClassifier(ctx, emb, nil, intent.DefaultThreshold)
	require.NoError(t, err)
	mgr := NewManager(engine, classifier, nil, nil)
	ask := func(q string) Response {
		t.Helper()
		resp, err := mgr.Handle(ctx, Request{SessionID: "live", Question: q})
		require.NoError(t, err)
		return resp
	}
	const q = "capital of france"

	_, err = mgr.Teach(ctx, q, "paris")
	require.NoError(t, err)
	resp := ask(q)
	assert.Equal(t, domain.SourceLocal, resp.Source)
	assert.Equal(t, "paris", resp.Answer)

	resp = ask("xyz unrelated nonsense")
	assert.Equal(t, domain.SourceNone, resp.Source)
	assert.Empty(t, resp.Answer)
	assert.True(t, resp.CanTeach)
	assert.True(t, resp.CanSearch)

	ask(q)
	resp = ask("no you are wrong")
	assert.True(t, resp.AwaitingCorrection)
	assert.Equal(t, q, mgr.State("live").LastFailedQuestion)

	resp = ask("lyon")
	assert.Equal(t, domain.SourceLearned, resp.Source)
	assert.False(t, mgr.State("live").PendingCorrection)
	rec, _, err := store.FindByQuestion(ctx, q)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"paris", "lyon"}, rec.Answers)

	ask(q)
	resp = ask("that's wrong")
	require.True(t, resp.AwaitingCorrection)
	state := mgr.State("live")
	assert.Equal(t, q, state.LastFailedQuestion)
	assert.Equal(t, q, state.LastRealQuestion)

	resp = ask("nevermind")
	assert.Equal(t, domain.SourceCancelled, resp.Source)
	assert.False(t, mgr.State("live").PendingCorrection)
	rec, _, err = store.FindByQuestion(ctx, q)
	require.NoError(t, err)
	assert.Len(t, rec.Answers, 2)
}

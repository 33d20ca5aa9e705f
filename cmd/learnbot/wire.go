package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"go.uber.org/zap"

	"learnbot/internal/config"
	"learnbot/internal/conversation"
	"learnbot/internal/domain"
	"learnbot/internal/embedding/openai"
	"learnbot/internal/embedding/tfidf"
	"learnbot/internal/intent"
	"learnbot/internal/knowledge/memory"
	"learnbot/internal/knowledge/redis"
	"learnbot/internal/knowledge/sqlite"
	"learnbot/internal/observability"
	"learnbot/internal/retrieval"
	"learnbot/internal/search"
	"learnbot/internal/summarizer"
	vsfile "learnbot/internal/vectorstore/file"
	vsmemory "learnbot/internal/vectorstore/memory"
	"learnbot/internal/vectorstore/qdrant"
)

// app holds the assembled components of one process.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	store   domain.KnowledgeStore
	engine  *retrieval.Engine
	manager *conversation.Manager
	closers []func() error
}

// buildApp assembles every component from cfg and loads the index.
func buildApp(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}
	a.store = store

	exemplars := intent.DefaultExemplars()
	if cfg.Intent.ExemplarsPath != "" {
		if exemplars, err = intent.LoadExemplars(cfg.Intent.ExemplarsPath); err != nil {
			return nil, err
		}
	}

	emb, err := a.newEmbedder(ctx, exemplars)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	snapshots, err := a.newSnapshotter()
	if err != nil {
		return nil, err
	}
	opts := []retrieval.Option{retrieval.WithLogger(logger)}
	if snapshots != nil {
		opts = append(opts, retrieval.WithSnapshotter(snapshots))
	}
	if seed := cfg.Retrieval.Seed; seed != 0 {
		opts = append(opts, retrieval.WithRand(rand.New(rand.NewPCG(seed, seed))))
	}
	a.engine = retrieval.New(emb, store, retrieval.Config{
		MatchThreshold: cfg.Retrieval.MatchThreshold,
		TieBand:        cfg.Retrieval.TieBand,
		MaxMultiple:    cfg.Retrieval.MaxMultiple,
		ShortSentences: cfg.Retrieval.ShortSentences,
		BuildWorkers:   cfg.Retrieval.BuildWorkers,
	}, opts...)
	if err := a.engine.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}

	classifier, err := intent.NewClassifier(ctx, emb, exemplars, cfg.Intent.Threshold)
	if err != nil {
		return nil, fmt.Errorf("preparing intent classifier: %w", err)
	}
	searcher, err := a.newSearcher()
	if err != nil {
		return nil, err
	}
	a.manager = conversation.NewManager(a.engine, classifier, searcher, logger)

	logger.Info("learnbot ready",
		zap.String("store", cfg.Store.Type),
		zap.String("embedder", emb.Name()),
		zap.String("snapshot", cfg.Index.Snapshot),
		zap.Int("indexed", a.engine.Size()))
	ok = true
	return a, nil
}

func (a *app) openStore(ctx context.Context) (domain.KnowledgeStore, error) {
	switch a.cfg.Store.Type {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite", "":
		path := ""
		if a.cfg.Store.SQLite != nil {
			path = a.cfg.Store.SQLite.Path
		}
		st, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case "redis":
		rc := a.cfg.Store.Redis
		if rc == nil {
			return nil, errors.New("redis store config missing")
		}
		st, err := redis.Open(ctx, redis.Config{
			Addr:     rc.Addr,
			Password: os.Getenv(rc.PasswordEnv),
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown knowledge store: %s", a.cfg.Store.Type)
	}
}

// newEmbedder prepares TF-IDF weights over the stored questions and the
// intent phrases, so both matchers share one vocabulary.
func (a *app) newEmbedder(ctx context.Context, exemplars intent.Exemplars) (domain.Embedder, error) {
	ec := a.cfg.Embedder
	switch ec.Type {
	case "tfidf", "":
		emb := tfidf.NewEmbedder(ec.Dimension)
		records, err := a.store.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		corpus := make([]string, 0, len(records))
		for _, rec := range records {
			corpus = append(corpus, rec.Question)
		}
		for _, cat := range intent.Categories {
			corpus = append(corpus, exemplars[cat]...)
		}
		if err := emb.Prepare(corpus); err != nil {
			return nil, err
		}
		return emb, nil
	case "openai":
		if ec.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		return openai.NewClient(openai.Config{
			BaseURL:    ec.OpenAI.BaseURL,
			APIKeyEnv:  ec.OpenAI.APIKeyEnv,
			Model:      ec.OpenAI.Model,
			Dimension:  ec.OpenAI.Dimension,
			Timeout:    time.Duration(ec.OpenAI.TimeoutSecs) * time.Second,
			AllowNoKey: ec.OpenAI.AllowNoKey,
			MaxRetries: ec.OpenAI.MaxRetries,
		}, a.logger)
	default:
		return nil, fmt.Errorf("unknown embedder: %s", ec.Type)
	}
}

// newSnapshotter returns nil when snapshots are disabled.
func (a *app) newSnapshotter() (domain.Snapshotter, error) {
	ic := a.cfg.Index
	switch ic.Snapshot {
	case "none", "":
		return nil, nil
	case "memory":
		return vsmemory.NewStorage(), nil
	case "file":
		if ic.File == nil {
			return nil, errors.New("file snapshot config missing")
		}
		return vsfile.NewStorage(ic.File.Path), nil
	case "qdrant":
		if ic.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        ic.Qdrant.URL,
			APIKey:     os.Getenv(ic.Qdrant.APIKeyEnv),
			Collection: ic.Qdrant.Collection,
			Timeout:    time.Duration(ic.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown index snapshot: %s", ic.Snapshot)
	}
}

// newSearcher returns nil when no provider is configured.
func (a *app) newSearcher() (domain.Searcher, error) {
	sc := a.cfg.Search
	if len(sc.Providers) == 0 {
		return nil, nil
	}
	client := search.NewHTTPClient(search.ClientConfig{
		Timeout:       time.Duration(sc.TimeoutSecs) * time.Second,
		MaxRetries:    sc.MaxRetries,
		RatePerSecond: sc.RatePerSecond,
	}, a.logger)
	providers := make([]search.Provider, 0, len(sc.Providers))
	for _, name := range sc.Providers {
		var s domain.Searcher
		switch name {
		case "wikipedia":
			s = search.NewWikipedia(client, sc.WikipediaURL, sc.UserAgent)
		case "duckduckgo":
			s = search.NewDuckDuckGo(client, sc.DuckDuckGoURL, sc.UserAgent)
		default:
			return nil, fmt.Errorf("unknown search provider: %s", name)
		}
		providers = append(providers, search.Provider{Name: name, Searcher: s})
	}
	return search.NewMulti(providers, summarizer.NewFrequencySummarizer(), sc.MaxSentences, a.logger), nil
}

// runBackground serves metrics and prunes idle sessions until ctx is done.
func (a *app) runBackground(ctx context.Context) {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := observability.Serve(ctx, addr, a.logger); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	if ttl := time.Duration(a.cfg.Session.IdleTTLMins) * time.Minute; ttl > 0 {
		go a.manager.RunJanitor(ctx, ttl/2, ttl)
	}
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

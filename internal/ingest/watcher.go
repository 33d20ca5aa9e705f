package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"learnbot/internal/domain"
	"learnbot/internal/retrieval"
)

// Learner stores many question/answer pairs at once.
type Learner interface {
	TeachBulk(ctx context.Context, pairs []domain.Pair) (retrieval.BulkResult, error)
}

// Watcher teaches every QA file written into a directory. Files are taught
// once their events have been quiet for the debounce interval, and unchanged
// content is not taught twice.
type Watcher struct {
	learner  Learner
	logger   *zap.Logger
	debounce time.Duration

	mu   sync.Mutex
	seen map[string]uint64
}

func NewWatcher(learner Learner, debounce time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		learner:  learner,
		logger:   logger.Named("ingest"),
		debounce: debounce,
		seen:     make(map[string]uint64),
	}
}

// IngestFile teaches the pairs in path. A file whose content was already
// taught returns a zero result.
func (w *Watcher) IngestFile(ctx context.Context, path string) (retrieval.BulkResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return retrieval.BulkResult{}, err
	}
	sum := xxhash.Sum64(data)
	w.mu.Lock()
	prev, ok := w.seen[path]
	w.mu.Unlock()
	if ok && prev == sum {
		return retrieval.BulkResult{}, nil
	}
	pairs, err := Parse(path, data)
	if err != nil {
		return retrieval.BulkResult{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	res, err := w.learner.TeachBulk(ctx, pairs)
	if err != nil {
		return res, fmt.Errorf("teaching %s: %w", path, err)
	}
	w.mu.Lock()
	w.seen[path] = sum
	w.mu.Unlock()
	w.logger.Info("ingested file",
		zap.String("path", path),
		zap.Int("added", res.Added),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// Run ingests the supported files already in dir and then watches it until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		w.ingestLogged(ctx, filepath.Join(dir, e.Name()))
	}

	pending := make(map[string]time.Time)
	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !Supported(event.Name) || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case now := <-tick.C:
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				w.ingestLogged(ctx, path)
			}
		}
	}
}

func (w *Watcher) ingestLogged(ctx context.Context, path string) {
	if _, err := w.IngestFile(ctx, path); err != nil {
		w.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
	}
}

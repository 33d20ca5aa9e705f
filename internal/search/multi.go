// Package search looks questions up in external sources when the local
// knowledge base has no answer.
package search

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"learnbot/internal/domain"
	"learnbot/internal/observability"
)

// Provider is a named external source.
type Provider struct {
	Name     string
	Searcher domain.Searcher
}

// Multi queries every provider concurrently and merges their snippets in
// provider order. Identical concurrent queries share one lookup.
type Multi struct {
	providers    []Provider
	summarizer   domain.Summarizer
	maxSentences int
	logger       *zap.Logger
	group        singleflight.Group
}

// NewMulti creates a merged searcher. When summarizer is nil the merged text
// is returned as is.
func NewMulti(providers []Provider, summarizer domain.Summarizer, maxSentences int, logger *zap.Logger) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Multi{
		providers:    providers,
		summarizer:   summarizer,
		maxSentences: maxSentences,
		logger:       logger.Named("search"),
	}
}

// Search returns "" when no provider found anything. An error is returned
// only when every provider failed.
func (m *Multi) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(m.providers) == 0 {
		return "", nil
	}
	// The shared lookup must outlive any single caller; each caller still
	// stops waiting when its own ctx is done.
	lookupCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(domain.Normalize(query), func() (any, error) {
		return m.search(lookupCtx, query)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Shared {
			m.logger.Debug("coalesced search", zap.String("query", query))
		}
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (m *Multi) search(ctx context.Context, query string) (string, error) {
	results := make([]string, len(m.providers))
	errs := make([]error, len(m.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range m.providers {
		g.Go(func() error {
			res, err := p.Searcher.Search(gctx, query)
			observability.RecordSearch(p.Name, res, err)
			if err != nil {
				m.logger.Warn("provider failed", zap.String("provider", p.Name), zap.Error(err))
				errs[i] = err
				return nil
			}
			results[i] = strings.TrimSpace(res)
			return nil
		})
	}
	g.Wait()

	merged := dedupe(results)
	if len(merged) == 0 {
		if allFailed(errs) {
			return "", errors.Join(errs...)
		}
		return "", nil
	}
	text := strings.Join(merged, " ")
	if m.summarizer == nil {
		return text, nil
	}
	summary, err := m.summarizer.Summarize(text, m.maxSentences)
	if err != nil {
		m.logger.Warn("summarizing search results failed", zap.Error(err))
		return text, nil
	}
	return summary, nil
}

// dedupe drops empty snippets and snippets whose normalized text equals or
// is contained in one kept earlier.
func dedupe(snippets []string) []string {
	var (
		out  []string
		keys []string
	)
	for _, s := range snippets {
		key := fold(s)
		if key == "" {
			continue
		}
		dup := false
		for i, k := range keys {
			if strings.Contains(k, key) {
				dup = true
				break
			}
			if strings.Contains(key, k) {
				out[i], keys[i] = s, key
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
			keys = append(keys, key)
		}
	}
	return out
}

// fold lowercases s and collapses everything but letters and digits into
// single spaces.
func fold(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}), " ")
}

func allFailed(errs []error) bool {
	for _, err := range errs {
		if err == nil {
			return false
		}
	}
	return true
}

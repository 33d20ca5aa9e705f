// Package knowledgetest holds behaviour tests shared by every knowledge store.
package knowledgetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbot/internal/domain"
)

// Run exercises the domain.KnowledgeStore contract against stores returned
// by newStore. Each subtest gets a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) domain.KnowledgeStore) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		s := newStore(t)
		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		_, found, err := s.FindByQuestion(ctx, "anything")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("upsert normalizes and replaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, domain.QARecord{Question: "  Capital of France ", Answers: []string{"Paris"}}))
		require.NoError(t, s.Upsert(ctx, domain.QARecord{Question: "capital of france", Answers: []string{"Paris", "Lutetia"}}))

		rec, found, err := s.FindByQuestion(ctx, "CAPITAL OF FRANCE")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "capital of france", rec.Question)
		assert.Equal(t, []string{"Paris", "Lutetia"}, rec.Answers)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("list keeps first insertion order", func(t *testing.T) {
		s := newStore(t)
		for _, q := range []string{"b", "a", "c"} {
			require.NoError(t, s.Upsert(ctx, domain.QARecord{Question: q, Answers: []string{q}}))
		}
		require.NoError(t, s.Upsert(ctx, domain.QARecord{Question: "b", Answers: []string{"b", "bb"}}))

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "b", all[0].Question)
		assert.Equal(t, []string{"b", "bb"}, all[0].Answers)
		assert.Equal(t, "a", all[1].Question)
		assert.Equal(t, "c", all[2].Question)
	})

	t.Run("empty question rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Upsert(ctx, domain.QARecord{Question: "  ", Answers: []string{"x"}})
		assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
	})
}

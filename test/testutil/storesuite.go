package testutil

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns a fresh, empty store for one subtest. The suite
// only stores three-dimensional embeddings.
type StoreFactory func(t *testing.T) ltm.Store

// RunStoreSuite exercises the behaviour every ltm.Store backend shares.
// Backends that report vector search support also get the search cases.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Run("requires game context", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Store(ctx, NewRecord("a", 1, 1, 0, 0))
		assert.ErrorIs(t, err, entity.ErrMissingGameContext)
		_, err = store.List(ctx, ltm.Filter{})
		assert.ErrorIs(t, err, entity.ErrMissingGameContext)
		_, err = store.Exists(ctx, "a")
		assert.ErrorIs(t, err, entity.ErrMissingGameContext)
		assert.ErrorIs(t, store.Clear(ctx), entity.ErrMissingGameContext)
	})

	t.Run("rejects foreign game id", func(t *testing.T) {
		store := newStore(t)
		record := NewRecord("a", 1, 1, 0, 0)
		record.GameID = "other"
		_, err := store.Store(GameContext("game-1"), record)
		assert.ErrorIs(t, err, ltm.ErrGameMismatch)
	})

	t.Run("store and list round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := GameContext("game-1")

		id, err := store.Store(ctx, NewDualRecord("the innkeeper hates elves", 4, []float64{0.25, -0.5, 1}, []float64{1, 0.125, 0}))
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		records, err := store.List(ctx, ltm.Filter{})
		require.NoError(t, err)
		require.Len(t, records, 1)
		got := records[0]
		assert.Equal(t, id, got.ID)
		assert.Equal(t, entity.GameID("game-1"), got.GameID)
		assert.Equal(t, "the innkeeper hates elves", got.Text)
		assert.Equal(t, int64(4), got.SequenceID)
		assert.InDeltaSlice(t, []float64{0.25, -0.5, 1}, got.EmbeddingRetrieval, 1e-6)
		assert.InDeltaSlice(t, []float64{1, 0.125, 0}, got.EmbeddingSemantic, 1e-6)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("games are isolated", func(t *testing.T) {
		store := newStore(t)
		ctxA := GameContext("game-a")
		ctxB := GameContext("game-b")

		_, err := store.Store(ctxA, NewRecord("shared text", 1, 1, 0, 0))
		require.NoError(t, err)
		_, err = store.Store(ctxB, NewRecord("only b", 1, 0, 1, 0))
		require.NoError(t, err)

		exists, err := store.Exists(ctxB, "shared text")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.Clear(ctxB))
		records, err := store.List(ctxA, ltm.Filter{})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("list filters by sequence", func(t *testing.T) {
		store := newStore(t)
		ctx := GameContext("game-1")
		for _, seq := range []int64{5, 15, 20} {
			_, err := store.Store(ctx, NewRecord("fact", seq, 1, 0, 0))
			require.NoError(t, err)
		}

		records, err := store.List(ctx, ltm.Filter{MaxSequenceID: Int64Ptr(15)})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{5, 15}, sequences(records))
	})

	t.Run("exists and delete by text", func(t *testing.T) {
		store := newStore(t)
		ctx := GameContext("game-1")
		for _, r := range []ltm.MemoryRecord{
			NewRecord("dragon sighted", 1, 1, 0, 0),
			NewRecord("dragon sighted", 2, 0, 1, 0),
			NewRecord("dragon slain", 3, 1, 1, 0),
		} {
			_, err := store.Store(ctx, r)
			require.NoError(t, err)
		}

		exists, err := store.Exists(ctx, "dragon sighted")
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = store.Exists(ctx, "dragon")
		require.NoError(t, err)
		assert.False(t, exists, "exists matches whole text only")

		removed, err := store.DeleteByText(ctx, "dragon sighted")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		removed, err = store.DeleteByText(ctx, "never stored")
		require.NoError(t, err)
		assert.Equal(t, 0, removed)

		records, err := store.List(ctx, ltm.Filter{})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "dragon slain", records[0].Text)
	})

	t.Run("delete by sequence", func(t *testing.T) {
		store := newStore(t)
		ctx := GameContext("game-1")
		for _, seq := range []int64{1, 2, 3, 3, 4, 6} {
			_, err := store.Store(ctx, NewRecord("fact", seq, 1, 0, 0))
			require.NoError(t, err)
		}

		removed, err := store.DeleteSequence(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		removed, err = store.DeleteFromSequence(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		records, err := store.List(ctx, ltm.Filter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{1, 2}, sequences(records))
	})

	t.Run("clear removes everything", func(t *testing.T) {
		store := newStore(t)
		ctx := GameContext("game-1")
		_, err := store.Store(ctx, NewRecord("a", 1, 1, 0, 0))
		require.NoError(t, err)

		require.NoError(t, store.Clear(ctx))
		records, err := store.List(ctx, ltm.Filter{})
		require.NoError(t, err)
		assert.Empty(t, records)

		// clearing an empty game is not an error
		require.NoError(t, store.Clear(GameContext("never-used")))
	})

	vs, ok := newStore(t).(ltm.VectorCapableStore)
	if !ok || !vs.SupportsVectorSearch() {
		return
	}

	t.Run("search ranks filters and dedupes", func(t *testing.T) {
		store := newStore(t).(ltm.VectorCapableStore)
		ctx := GameContext("game-1")
		for _, r := range []ltm.MemoryRecord{
			NewRecord("exact", 1, 1, 0, 0),
			NewRecord("exact", 2, 0.8, 0.6, 0),
			NewDualRecord("semantic only", 3, []float64{0, 0, 1}, []float64{0.9, 0.1, 0}),
			NewRecord("unrelated", 4, 0, 1, 0),
			NewRecord("too recent", 30, 1, 0, 0),
		} {
			_, err := store.Store(ctx, r)
			require.NoError(t, err)
		}
		_, err := store.Store(GameContext("game-2"), NewRecord("other game", 1, 1, 0, 0))
		require.NoError(t, err)

		results, err := store.Search(ctx, ltm.VectorQuery{
			Retrieval:     []float64{1, 0, 0},
			Semantic:      []float64{1, 0, 0},
			MaxSequenceID: Int64Ptr(15),
			Threshold:     0.5968,
			Limit:         3,
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "exact", results[0].Text)
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		assert.Equal(t, "semantic only", results[1].Text)

		results, err = store.Search(ctx, ltm.VectorQuery{
			Retrieval: []float64{1, 0, 0},
			Semantic:  []float64{1, 0, 0},
			Threshold: 0.5968,
			Limit:     1,
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Contains(t, []string{"exact", "too recent"}, results[0].Text)
	})

	t.Run("search scores exactly at the threshold", func(t *testing.T) {
		store := newStore(t).(ltm.VectorCapableStore)
		ctx := GameContext("game-1")
		rng := rand.New(rand.NewSource(7))
		vec := func() []float64 {
			return []float64{rng.Float64()*2 - 1, rng.Float64()*2 - 1, rng.Float64()*2 - 1}
		}

		for i := 0; i < 40; i++ {
			require.NoError(t, store.Clear(ctx))
			_, err := store.Store(ctx, NewDualRecord("fact", 1, vec(), vec()))
			require.NoError(t, err)
			records, err := store.List(ctx, ltm.Filter{})
			require.NoError(t, err)
			require.Len(t, records, 1)

			query := ltm.VectorQuery{Retrieval: vec(), Semantic: vec(), Limit: 3}
			query.Threshold = ltm.Score(query.Retrieval, query.Semantic, records[0])

			results, err := store.Search(ctx, query)
			require.NoError(t, err)
			assert.Equal(t, ltm.Rank(records, query), results, "trial %d", i)
			require.Len(t, results, 1, "trial %d", i)
			assert.Equal(t, query.Threshold, results[0].Score)

			query.Threshold += 1e-9
			results, err = store.Search(ctx, query)
			require.NoError(t, err)
			assert.Empty(t, results, "trial %d", i)
		}
	})

	t.Run("search on empty game", func(t *testing.T) {
		store := newStore(t).(ltm.VectorCapableStore)
		results, err := store.Search(GameContext("empty"), ltm.VectorQuery{
			Retrieval: []float64{1, 0, 0},
			Semantic:  []float64{1, 0, 0},
			Threshold: 0.5,
			Limit:     3,
		})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func sequences(records []ltm.MemoryRecord) []int64 {
	seqs := make([]int64, 0, len(records))
	for _, r := range records {
		seqs = append(seqs, r.SequenceID)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

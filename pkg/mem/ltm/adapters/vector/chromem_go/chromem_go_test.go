package chromem_go

import (
	"testing"

	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/lexlapax/saga/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *ChromemGoAdapter {
	client, cleanup := testutil.CreateTempChromemGoClient(t)
	t.Cleanup(cleanup)

	adapter, err := NewChromemGoAdapter(client, "test-collection")
	require.NoError(t, err)
	return adapter
}

func TestChromemGoAdapter(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) ltm.Store {
		return newTestAdapter(t)
	})
}

func TestChromemGoAdapter_TwoCollections(t *testing.T) {
	client, cleanup := testutil.CreateTempChromemGoClient(t)
	defer cleanup()

	adapter, err := NewChromemGoAdapterWithConfig(client, ChromemGoConfig{Collection: "saga"})
	require.NoError(t, err)
	assert.True(t, adapter.SupportsVectorSearch())

	collections := client.ListCollections()
	assert.Contains(t, collections, "saga-retrieval")
	assert.Contains(t, collections, "saga-semantic")

	ctx := testutil.GameContext("game-1")
	_, err = adapter.Store(ctx, testutil.NewRecord("a", 1, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, collections["saga-retrieval"].Count())
	assert.Equal(t, 1, collections["saga-semantic"].Count())

	_, err = adapter.DeleteByText(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, collections["saga-retrieval"].Count())
	assert.Equal(t, 0, collections["saga-semantic"].Count())
}

func TestChromemGoAdapter_NilClientDefaults(t *testing.T) {
	adapter, err := NewChromemGoAdapterWithConfig(nil, ChromemGoConfig{})
	require.NoError(t, err)
	assert.Equal(t, "memories-retrieval", adapter.retrieval.Name)
}

func TestChromemGoAdapter_DimensionChecks(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := testutil.GameContext("game-1")

	_, err := adapter.Store(ctx, testutil.NewRecord("three", 1, 1, 0, 0))
	require.NoError(t, err)

	_, err = adapter.Store(ctx, testutil.NewRecord("two", 2, 1, 0))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = adapter.Store(ctx, ltm.MemoryRecord{Text: "none", SequenceID: 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// a query vector of the wrong size contributes nothing
	results, err := adapter.Search(ctx, ltm.VectorQuery{
		Retrieval: []float64{1, 0},
		Semantic:  []float64{1, 0, 0},
		Threshold: 0.5,
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "three", results[0].Text)
}

func TestChromemGoAdapter_ZeroVectorScoresZero(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := testutil.GameContext("game-1")

	_, err := adapter.Store(ctx, testutil.NewRecord("silent", 1, 0, 0, 0))
	require.NoError(t, err)

	results, err := adapter.Search(ctx, ltm.VectorQuery{
		Retrieval: []float64{1, 0, 0},
		Semantic:  []float64{1, 0, 0},
		Threshold: 0,
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Score)
}

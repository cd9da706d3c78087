package mock

import (
	"testing"

	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/lexlapax/saga/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) ltm.Store {
		return NewMockStore()
	})
}

func TestMockStore_VectorSearch(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) ltm.Store {
		return NewMockStore(WithVectorSearch())
	})
}

func TestMockStore_Count(t *testing.T) {
	store := NewMockStore()
	ctx := testutil.GameContext("game-1")
	_, err := store.Store(ctx, testutil.NewRecord("a", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count(ctx))
	assert.Equal(t, 0, store.Count(testutil.GameContext("other")))
}

func TestMockStore_StoresCopies(t *testing.T) {
	store := NewMockStore()
	ctx := testutil.GameContext("game-1")
	record := testutil.NewRecord("a", 1, 1, 2)
	_, err := store.Store(ctx, record)
	require.NoError(t, err)

	record.EmbeddingRetrieval[0] = 99
	records, err := store.List(ctx, ltm.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, records[0].EmbeddingRetrieval)
}

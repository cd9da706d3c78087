package sqlite

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/lexlapax/saga/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	store, err := Open(context.Background(), testutil.CreateTempSQLitePath(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) ltm.Store {
		return openTestStore(t)
	})
}

func TestSQLiteStore_NoNativeSearch(t *testing.T) {
	var store ltm.Store = openTestStore(t)
	_, ok := store.(ltm.VectorCapableStore)
	assert.False(t, ok)
}

func TestMigrate_Idempotent(t *testing.T) {
	path := testutil.CreateTempSQLitePath(t)
	db, err := sqlx.Connect("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM memory_records`))
	assert.Zero(t, count)
}

func TestSQLiteStore_EmptyEmbeddingsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := testutil.GameContext("game-1")

	_, err := store.Store(ctx, ltm.MemoryRecord{Text: "no vectors", SequenceID: 1})
	require.NoError(t, err)

	records, err := store.List(ctx, ltm.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].EmbeddingRetrieval)
	assert.Empty(t, records[0].EmbeddingSemantic)
}

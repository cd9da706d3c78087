package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/lexlapax/saga/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 3

func skipIfNoPgvector(t *testing.T) string {
	pgvectorURL := os.Getenv("PGVECTOR_TEST_URL")
	if pgvectorURL == "" {
		t.Skip("Skipping pgvector tests: PGVECTOR_TEST_URL environment variable not set")
	}
	return pgvectorURL
}

func setupTestAdapter(t *testing.T) *PgvectorAdapter {
	pgvectorURL := skipIfNoPgvector(t)

	// random table per test to avoid conflicts
	tableName := "test_" + uuid.New().String()[:8]

	adapter, err := NewPgvectorAdapter(context.Background(), PgvectorConfig{
		ConnectionString: pgvectorURL,
		TableName:        tableName,
		DimensionSize:    testDimension,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = adapter.DB().Exec(context.Background(), "DROP TABLE IF EXISTS "+adapter.tableName)
		adapter.Close()
	})
	return adapter
}

func TestPgvectorAdapter(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) ltm.Store {
		return setupTestAdapter(t)
	})
}

func TestPgvectorAdapter_RejectsWrongDimension(t *testing.T) {
	adapter := setupTestAdapter(t)
	_, err := adapter.Store(testutil.GameContext("game-1"), testutil.NewRecord("short", 1, 1, 0))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestPgvectorAdapter_ZeroAndMismatchedVectorsScoreZero(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := testutil.GameContext("game-1")

	_, err := adapter.Store(ctx, testutil.NewRecord("silent", 1, 0, 0, 0))
	require.NoError(t, err)
	_, err = adapter.Store(ctx, testutil.NewRecord("loud", 2, 1, 0, 0))
	require.NoError(t, err)

	results, err := adapter.Search(ctx, ltm.VectorQuery{
		Retrieval: []float64{1, 0, 0},
		Semantic:  []float64{1, 0},
		Threshold: 0,
		Limit:     5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "loud", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "silent", results[1].Text)
	assert.InDelta(t, 0.0, results[1].Score, 1e-9)
}

func TestEmbedStringRoundTrip(t *testing.T) {
	in := []float64{0.1, -2.5, 3e-7}
	out, err := stringToEmbed(embedToString(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty, err := stringToEmbed("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = stringToEmbed("[1,x]")
	assert.Error(t, err)
}

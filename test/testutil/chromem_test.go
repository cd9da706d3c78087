package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempChromemGoClient(t *testing.T) {
	client, cleanup := CreateTempChromemGoClient(t)
	require.NotNil(t, client)
	defer cleanup()

	collectionName := "memories-retrieval"
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	}

	coll, err := client.CreateCollection(collectionName, map[string]string{"task": "retrieval"}, embeddingFunc)
	require.NoError(t, err)
	assert.Equal(t, collectionName, coll.Name)

	_, found := client.ListCollections()[collectionName]
	assert.True(t, found)

	fetched := client.GetCollection(collectionName, embeddingFunc)
	require.NotNil(t, fetched)
	assert.Equal(t, collectionName, fetched.Name)

	require.NoError(t, client.DeleteCollection(collectionName))
	_, found = client.ListCollections()[collectionName]
	assert.False(t, found)
}

func TestCreateTempChromemGoClientOnDisk(t *testing.T) {
	client, dir := CreateTempChromemGoClientOnDisk(t)
	require.NotNil(t, client)
	assert.DirExists(t, dir)
}

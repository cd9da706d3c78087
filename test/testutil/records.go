package testutil

import (
	"context"

	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/mem/ltm"
)

// GameContext returns a background context scoped to gameID.
func GameContext(gameID string) context.Context {
	return entity.ContextWithGameID(context.Background(), entity.GameID(gameID))
}

// NewRecord builds a memory record that uses the same vector for both
// embeddings.
func NewRecord(text string, seq int64, vec ...float64) ltm.MemoryRecord {
	return ltm.MemoryRecord{
		Text:               text,
		SequenceID:         seq,
		EmbeddingRetrieval: append([]float64(nil), vec...),
		EmbeddingSemantic:  append([]float64(nil), vec...),
	}
}

// NewDualRecord builds a memory record with distinct retrieval and semantic vectors.
func NewDualRecord(text string, seq int64, retrieval, semantic []float64) ltm.MemoryRecord {
	return ltm.MemoryRecord{
		Text:               text,
		SequenceID:         seq,
		EmbeddingRetrieval: retrieval,
		EmbeddingSemantic:  semantic,
	}
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

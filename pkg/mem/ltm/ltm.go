package ltm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lexlapax/saga/pkg/entity"
)

// MemoryRecord is one remembered fact with its two embeddings.
// Records are never mutated in place: they are written once and deleted.
type MemoryRecord struct {
	// ID is the storage identity. Several records may share a Text.
	ID string `json:"id"`

	// GameID is the game that owns this memory
	GameID entity.GameID `json:"game_id"`

	// Text is the remembered fact and the key callers address it by
	Text string `json:"text"`

	// EmbeddingRetrieval is the retrieval-document vector for Text
	EmbeddingRetrieval []float64 `json:"embedding_retrieval"`

	// EmbeddingSemantic is the semantic-similarity vector for Text
	EmbeddingSemantic []float64 `json:"embedding_semantic"`

	// SequenceID is the game step at which the memory was recorded
	SequenceID int64 `json:"sequence_id"`

	// CreatedAt is informational only; ordering uses SequenceID
	CreatedAt time.Time `json:"created_at"`
}

// Filter restricts which records List returns.
type Filter struct {
	// MaxSequenceID, when set, keeps only records with SequenceID <= *MaxSequenceID
	MaxSequenceID *int64
}

// Matches reports whether a record passes the filter.
func (f Filter) Matches(record MemoryRecord) bool {
	return f.MaxSequenceID == nil || record.SequenceID <= *f.MaxSequenceID
}

// VectorQuery is a recall pushed down into a vector-capable backend.
type VectorQuery struct {
	// Retrieval is the retrieval-query embedding of the query text
	Retrieval []float64

	// Semantic is the semantic-similarity embedding of the query text
	Semantic []float64

	// MaxSequenceID restricts candidates like Filter.MaxSequenceID
	MaxSequenceID *int64

	// Threshold is the minimum score a candidate needs
	Threshold float64

	// Limit is the maximum number of distinct texts returned
	Limit int
}

// ScoredText is a distinct memory text with its best score.
type ScoredText struct {
	Text  string
	Score float64
}

// Store is the interface that all memory backends implement.
// Every method isolates records by the GameID carried in ctx.
type Store interface {
	// Store persists one record atomically and returns its ID.
	Store(ctx context.Context, record MemoryRecord) (string, error)

	// List returns the game's records that pass filter.
	List(ctx context.Context, filter Filter) ([]MemoryRecord, error)

	// Exists reports whether at least one record has exactly this text.
	Exists(ctx context.Context, text string) (bool, error)

	// DeleteByText removes every record with exactly this text.
	DeleteByText(ctx context.Context, text string) (int, error)

	// DeleteFromSequence removes every record with SequenceID >= seq.
	DeleteFromSequence(ctx context.Context, seq int64) (int, error)

	// DeleteSequence removes every record with SequenceID == seq.
	DeleteSequence(ctx context.Context, seq int64) (int, error)

	// Clear removes all of the game's records.
	Clear(ctx context.Context) error
}

// VectorCapableStore extends Store with similarity search inside the backend.
type VectorCapableStore interface {
	Store

	// SupportsVectorSearch indicates that Search can be used.
	SupportsVectorSearch() bool

	// Search scores candidates as the max of the four cross-task cosine
	// similarities and returns distinct texts at or above the threshold,
	// best first, at most Limit of them.
	Search(ctx context.Context, query VectorQuery) ([]ScoredText, error)
}

// GameFromContext extracts the game identity every backend call needs.
func GameFromContext(ctx context.Context) (entity.GameID, error) {
	gameCtx, ok := entity.GetGameContext(ctx)
	if !ok {
		return "", entity.ErrMissingGameContext
	}
	return gameCtx.GameID, nil
}

// ErrGameMismatch is returned when a record names a different game than ctx.
var ErrGameMismatch = errors.New("record game ID must match context game ID")

// PrepareRecord fills the identity fields a backend needs before writing:
// the game from ctx, a fresh ID when none is set, and the creation time.
func PrepareRecord(ctx context.Context, record MemoryRecord) (MemoryRecord, error) {
	gameID, err := GameFromContext(ctx)
	if err != nil {
		return record, err
	}
	if record.GameID == "" {
		record.GameID = gameID
	} else if record.GameID != gameID {
		return record, ErrGameMismatch
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return record, nil
}

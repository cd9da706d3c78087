package chromem_go

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	chromem "github.com/philippgille/chromem-go"
)

var (
	// ErrDimensionMismatch is returned when an embedding does not match the
	// dimension already established in its collection.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// errNoEmbedder is what chromem gets if it ever tries to embed text itself.
	errNoEmbedder = errors.New("chromem adapter stores precomputed embeddings only")
)

const (
	metaGameID     = "game_id"
	metaSequenceID = "sequence_id"
)

// ChromemGoConfig contains the configuration for the adapter.
type ChromemGoConfig struct {
	// Collection is the base name; two collections are derived from it.
	Collection string
}

// ChromemGoAdapter implements ltm.VectorCapableStore on chromem-go. Each
// embedding kind lives in its own collection so that every query vector can
// be matched against both. Records are mirrored in an in-process index that
// serves listing and deletes, which chromem cannot enumerate.
type ChromemGoAdapter struct {
	db        *chromem.DB
	retrieval *chromem.Collection
	semantic  *chromem.Collection

	mu    sync.RWMutex
	index map[entity.GameID]map[string]ltm.MemoryRecord
	dims  map[*chromem.Collection]int
}

// NewChromemGoAdapter creates an adapter on client using the collection base name.
func NewChromemGoAdapter(client *chromem.DB, collection string) (*ChromemGoAdapter, error) {
	return NewChromemGoAdapterWithConfig(client, ChromemGoConfig{Collection: collection})
}

// NewChromemGoAdapterWithConfig creates an adapter from config. A nil client
// gets a fresh in-memory database.
func NewChromemGoAdapterWithConfig(client *chromem.DB, config ChromemGoConfig) (*ChromemGoAdapter, error) {
	if client == nil {
		client = chromem.NewDB()
	}
	if config.Collection == "" {
		config.Collection = "memories"
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbedder
	}

	retrieval, err := client.GetOrCreateCollection(config.Collection+"-retrieval", map[string]string{"task": "retrieval"}, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval collection: %w", err)
	}
	semantic, err := client.GetOrCreateCollection(config.Collection+"-semantic", map[string]string{"task": "semantic"}, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create semantic collection: %w", err)
	}

	log.Debug("Initialized chromem-go LTM adapter", "collection", config.Collection)
	return &ChromemGoAdapter{
		db:        client,
		retrieval: retrieval,
		semantic:  semantic,
		index:     make(map[entity.GameID]map[string]ltm.MemoryRecord),
		dims:      make(map[*chromem.Collection]int),
	}, nil
}

// SupportsVectorSearch implements ltm.VectorCapableStore.
func (a *ChromemGoAdapter) SupportsVectorSearch() bool {
	return true
}

// Store adds the record's embeddings to both collections.
func (a *ChromemGoAdapter) Store(ctx context.Context, record ltm.MemoryRecord) (string, error) {
	record, err := ltm.PrepareRecord(ctx, record)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkDims(a.retrieval, record.EmbeddingRetrieval); err != nil {
		return "", err
	}
	if err := a.checkDims(a.semantic, record.EmbeddingSemantic); err != nil {
		return "", err
	}

	meta := map[string]string{
		metaGameID:     string(record.GameID),
		metaSequenceID: strconv.FormatInt(record.SequenceID, 10),
	}
	if err := a.retrieval.AddDocument(ctx, chromem.Document{
		ID:        record.ID,
		Metadata:  meta,
		Embedding: toFloat32(record.EmbeddingRetrieval),
		Content:   record.Text,
	}); err != nil {
		return "", fmt.Errorf("failed to add retrieval document: %w", err)
	}
	if err := a.semantic.AddDocument(ctx, chromem.Document{
		ID:        record.ID,
		Metadata:  meta,
		Embedding: toFloat32(record.EmbeddingSemantic),
		Content:   record.Text,
	}); err != nil {
		// keep the two collections in step
		_ = a.retrieval.Delete(ctx, nil, nil, record.ID)
		return "", fmt.Errorf("failed to add semantic document: %w", err)
	}

	a.dims[a.retrieval] = len(record.EmbeddingRetrieval)
	a.dims[a.semantic] = len(record.EmbeddingSemantic)

	stored := record
	stored.EmbeddingRetrieval = append([]float64(nil), record.EmbeddingRetrieval...)
	stored.EmbeddingSemantic = append([]float64(nil), record.EmbeddingSemantic...)
	if a.index[record.GameID] == nil {
		a.index[record.GameID] = make(map[string]ltm.MemoryRecord)
	}
	a.index[record.GameID][record.ID] = stored

	log.DebugContext(ctx, "Stored record in chromem-go", "record_id", record.ID, "sequence_id", record.SequenceID)
	return record.ID, nil
}

// List returns the game's records that pass filter, ordered by sequence.
func (a *ChromemGoAdapter) List(ctx context.Context, filter ltm.Filter) ([]ltm.MemoryRecord, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	records := []ltm.MemoryRecord{}
	for _, record := range a.index[gameID] {
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].SequenceID != records[j].SequenceID {
			return records[i].SequenceID < records[j].SequenceID
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Search runs both query vectors against both collections, which covers
// the four cross-task similarities. chromem scores in float32, so its hits
// only preselect candidates; they are rescored from the float64 index.
func (a *ChromemGoAdapter) Search(ctx context.Context, query ltm.VectorQuery) ([]ltm.ScoredText, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if query.Limit <= 0 {
		return []ltm.ScoredText{}, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.index[gameID])
	if n == 0 {
		return []ltm.ScoredText{}, nil
	}
	filter := ltm.Filter{MaxSequenceID: query.MaxSequenceID}
	where := map[string]string{metaGameID: string(gameID)}
	cutoff := ltm.CandidateCutoff(query.Threshold)

	candidates := make(map[string]ltm.MemoryRecord)
	// zero vectors score 0 and never show up as chromem hits
	if cutoff <= 0 {
		for id, record := range a.index[gameID] {
			if filter.Matches(record) {
				candidates[id] = record
			}
		}
	}

	for _, coll := range []*chromem.Collection{a.retrieval, a.semantic} {
		for _, vec := range [][]float64{query.Retrieval, query.Semantic} {
			if len(vec) == 0 || len(vec) != a.dims[coll] {
				continue
			}
			results, err := coll.QueryEmbedding(ctx, toFloat32(vec), n, where, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to query %s: %w", coll.Name, err)
			}
			for _, res := range results {
				sim := float64(res.Similarity)
				if math.IsNaN(sim) || sim < cutoff {
					continue
				}
				if record, ok := a.index[gameID][res.ID]; ok && filter.Matches(record) {
					candidates[res.ID] = record
				}
			}
		}
	}

	records := make([]ltm.MemoryRecord, 0, len(candidates))
	for _, record := range candidates {
		records = append(records, record)
	}
	return ltm.Rank(records, query), nil
}

// Exists reports whether any record of the game has exactly this text.
func (a *ChromemGoAdapter) Exists(ctx context.Context, text string) (bool, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return false, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, record := range a.index[gameID] {
		if record.Text == text {
			return true, nil
		}
	}
	return false, nil
}

// DeleteByText removes every record of the game with exactly this text.
func (a *ChromemGoAdapter) DeleteByText(ctx context.Context, text string) (int, error) {
	return a.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.Text == text })
}

// DeleteFromSequence removes every record with SequenceID >= seq.
func (a *ChromemGoAdapter) DeleteFromSequence(ctx context.Context, seq int64) (int, error) {
	return a.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.SequenceID >= seq })
}

// DeleteSequence removes every record with SequenceID == seq.
func (a *ChromemGoAdapter) DeleteSequence(ctx context.Context, seq int64) (int, error) {
	return a.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.SequenceID == seq })
}

// Clear removes all of the game's records.
func (a *ChromemGoAdapter) Clear(ctx context.Context) error {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.index[gameID]) == 0 {
		return nil
	}
	where := map[string]string{metaGameID: string(gameID)}
	for _, coll := range []*chromem.Collection{a.retrieval, a.semantic} {
		if err := coll.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("failed to clear %s: %w", coll.Name, err)
		}
	}
	delete(a.index, gameID)
	return nil
}

func (a *ChromemGoAdapter) deleteWhere(ctx context.Context, match func(ltm.MemoryRecord) bool) (int, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var ids []string
	for id, record := range a.index[gameID] {
		if match(record) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, coll := range []*chromem.Collection{a.retrieval, a.semantic} {
		if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
			return 0, fmt.Errorf("failed to delete from %s: %w", coll.Name, err)
		}
	}
	for _, id := range ids {
		delete(a.index[gameID], id)
	}
	return len(ids), nil
}

// checkDims must be called with the write lock held.
func (a *ChromemGoAdapter) checkDims(coll *chromem.Collection, vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding for %s", ErrDimensionMismatch, coll.Name)
	}
	if want, ok := a.dims[coll]; ok && coll.Count() > 0 && want != len(vec) {
		return fmt.Errorf("%w: %s holds %d, got %d", ErrDimensionMismatch, coll.Name, want, len(vec))
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

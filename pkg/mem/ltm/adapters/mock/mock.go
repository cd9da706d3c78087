package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
)

// MockStore is an in-memory implementation of the ltm.Store interface
// used for testing and development.
type MockStore struct {
	// records[GameID][RecordID] = MemoryRecord
	records map[entity.GameID]map[string]ltm.MemoryRecord

	// vectorSearch makes the store advertise native search
	vectorSearch bool

	mutex sync.RWMutex
}

// Option configures a MockStore.
type Option func(*MockStore)

// WithVectorSearch makes the store report vector search support and serve
// Search in-process.
func WithVectorSearch() Option {
	return func(m *MockStore) {
		m.vectorSearch = true
	}
}

// NewMockStore creates a new instance of the MockStore.
func NewMockStore(opts ...Option) *MockStore {
	store := &MockStore{
		records: make(map[entity.GameID]map[string]ltm.MemoryRecord),
	}
	for _, opt := range opts {
		opt(store)
	}

	log.Debug("Initialized LTM mock store adapter", "vector_search", store.vectorSearch)
	return store
}

// Store implements the ltm.Store interface.
func (m *MockStore) Store(ctx context.Context, record ltm.MemoryRecord) (string, error) {
	record, err := ltm.PrepareRecord(ctx, record)
	if err != nil {
		log.ErrorContext(ctx, "Rejected memory record", "error", err)
		return "", err
	}
	record.EmbeddingRetrieval = append([]float64(nil), record.EmbeddingRetrieval...)
	record.EmbeddingSemantic = append([]float64(nil), record.EmbeddingSemantic...)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.records[record.GameID]; !exists {
		m.records[record.GameID] = make(map[string]ltm.MemoryRecord)
	}
	m.records[record.GameID][record.ID] = record

	log.DebugContext(ctx, "Stored memory record in mock store",
		"record_id", record.ID,
		"sequence_id", record.SequenceID,
	)
	return record.ID, nil
}

// List implements the ltm.Store interface. Records come back ordered by
// sequence so callers see a stable order.
func (m *MockStore) List(ctx context.Context, filter ltm.Filter) ([]ltm.MemoryRecord, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	results := []ltm.MemoryRecord{}
	for _, record := range m.records[gameID] {
		if filter.Matches(record) {
			results = append(results, record)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].SequenceID != results[j].SequenceID {
			return results[i].SequenceID < results[j].SequenceID
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Exists implements the ltm.Store interface.
func (m *MockStore) Exists(ctx context.Context, text string) (bool, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return false, err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, record := range m.records[gameID] {
		if record.Text == text {
			return true, nil
		}
	}
	return false, nil
}

// DeleteByText implements the ltm.Store interface.
func (m *MockStore) DeleteByText(ctx context.Context, text string) (int, error) {
	return m.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.Text == text })
}

// DeleteFromSequence implements the ltm.Store interface.
func (m *MockStore) DeleteFromSequence(ctx context.Context, seq int64) (int, error) {
	return m.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.SequenceID >= seq })
}

// DeleteSequence implements the ltm.Store interface.
func (m *MockStore) DeleteSequence(ctx context.Context, seq int64) (int, error) {
	return m.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.SequenceID == seq })
}

// Clear implements the ltm.Store interface.
func (m *MockStore) Clear(ctx context.Context) error {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.records, gameID)
	log.DebugContext(ctx, "Cleared mock store game", "game_id", gameID)
	return nil
}

// SupportsVectorSearch implements the ltm.VectorCapableStore interface.
func (m *MockStore) SupportsVectorSearch() bool {
	return m.vectorSearch
}

// Search implements the ltm.VectorCapableStore interface.
func (m *MockStore) Search(ctx context.Context, query ltm.VectorQuery) ([]ltm.ScoredText, error) {
	records, err := m.List(ctx, ltm.Filter{MaxSequenceID: query.MaxSequenceID})
	if err != nil {
		return nil, err
	}
	return ltm.Rank(records, query), nil
}

// Count returns the number of records held for the game in ctx.
func (m *MockStore) Count(ctx context.Context) int {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return 0
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.records[gameID])
}

func (m *MockStore) deleteWhere(ctx context.Context, match func(ltm.MemoryRecord) bool) (int, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return 0, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0
	for id, record := range m.records[gameID] {
		if match(record) {
			delete(m.records[gameID], id)
			removed++
		}
	}
	return removed, nil
}

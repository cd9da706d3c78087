// Package memory is the game's long-term memory: it embeds remembered facts
// twice, stores them in an ltm backend and recalls them with a causal
// buffer so the narrator never sees facts from the immediate present.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/lexlapax/saga/pkg/reasoning"
)

const (
	// DefaultThreshold is the calibrated minimum recall score.
	DefaultThreshold = 0.5968

	// DefaultCausalBuffer is how many steps a memory must age before recall.
	DefaultCausalBuffer = 10

	// DefaultK is the number of memories recalled when the caller gives none.
	DefaultK = 3
)

// Config contains the recall tunables.
type Config struct {
	// Threshold is the minimum score a memory needs to be recalled
	Threshold float64

	// CausalBuffer excludes memories with SequenceID > current-CausalBuffer
	CausalBuffer int64

	// DefaultK bounds recall results when RecallOptions.K is not positive
	DefaultK int

	// UseVectorSearch lets recall run inside backends that support it
	UseVectorSearch bool
}

// DefaultConfig returns the default configuration for the memory manager.
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		CausalBuffer:    DefaultCausalBuffer,
		DefaultK:        DefaultK,
		UseVectorSearch: true,
	}
}

// RecallOptions narrows one recall.
type RecallOptions struct {
	// CurrentSequenceID enables the causal buffer when set
	CurrentSequenceID *int64

	// K is the maximum number of texts returned
	K int
}

// AtStep is shorthand for recall options at a game step with the default k.
func AtStep(step int64) RecallOptions {
	return RecallOptions{CurrentSequenceID: &step}
}

// EventKind names a change to the store.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
)

// Event describes one completed mutation. Removal events carry either the
// text or the sequence bound that selected the records, and how many went.
type Event struct {
	Kind       EventKind
	GameID     entity.GameID
	RecordID   string
	Text       string
	SequenceID int64
	Count      int
}

// Listener receives events synchronously after the mutation is durable.
type Listener func(Event)

// Manager implements the memory store on top of an ltm.Store.
type Manager struct {
	store    ltm.Store
	embedder reasoning.Embedder
	config   Config

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// NewManager creates a Manager. Zero-valued tunables fall back to defaults.
func NewManager(store ltm.Store, embedder reasoning.Embedder, config Config) *Manager {
	if config.DefaultK <= 0 {
		config.DefaultK = DefaultK
	}
	if config.CausalBuffer < 0 {
		config.CausalBuffer = DefaultCausalBuffer
	}

	m := &Manager{
		store:     store,
		embedder:  embedder,
		config:    config,
		listeners: make(map[int]Listener),
	}

	log.Debug("Memory manager initialized",
		"threshold", config.Threshold,
		"causal_buffer", config.CausalBuffer,
		"default_k", config.DefaultK,
		"vector_search", m.pushdown() != nil,
		"ltm_store_type", fmt.Sprintf("%T", store),
	)
	return m
}

// Config returns the manager's effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Remember embeds text for both document tasks and stores one record.
// Any embedding failure returns ErrEmbeddingFailure and stores nothing.
func (m *Manager) Remember(ctx context.Context, text string, seq int64) (string, error) {
	if _, err := ltm.GameFromContext(ctx); err != nil {
		return "", err
	}

	retrieval, semantic, err := m.embed(ctx, text, reasoning.TaskRetrievalDocument)
	if err != nil {
		return "", err
	}
	// an abandoned call must not leave a record behind
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := m.store.Store(ctx, ltm.MemoryRecord{
		Text:               text,
		EmbeddingRetrieval: retrieval,
		EmbeddingSemantic:  semantic,
		SequenceID:         seq,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to store memory")
	}

	log.DebugContext(ctx, "Remembered fact", "record_id", id, "sequence_id", seq)
	m.notify(ctx, Event{Kind: EventAdded, RecordID: id, Text: text, SequenceID: seq, Count: 1})
	return id, nil
}

// Recall returns up to k distinct memory texts relevant to query, best first.
func (m *Manager) Recall(ctx context.Context, query string, opts RecallOptions) ([]string, error) {
	scored, err := m.RecallScored(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(scored))
	for i, s := range scored {
		texts[i] = s.Text
	}
	return texts, nil
}

// RecallScored is Recall with the score of every returned text.
func (m *Manager) RecallScored(ctx context.Context, query string, opts RecallOptions) ([]ltm.ScoredText, error) {
	if _, err := ltm.GameFromContext(ctx); err != nil {
		return nil, err
	}

	retrieval, semantic, err := m.embed(ctx, query, reasoning.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}

	k := opts.K
	if k <= 0 {
		k = m.config.DefaultK
	}
	vq := ltm.VectorQuery{
		Retrieval: retrieval,
		Semantic:  semantic,
		Threshold: m.config.Threshold,
		Limit:     k,
	}
	if opts.CurrentSequenceID != nil {
		bound := *opts.CurrentSequenceID - m.config.CausalBuffer
		vq.MaxSequenceID = &bound
	}

	if vs := m.pushdown(); vs != nil {
		results, err := vs.Search(ctx, vq)
		if err != nil {
			return nil, errors.Wrap(err, "vector search failed")
		}
		log.DebugContext(ctx, "Recalled memories via backend search", "count", len(results))
		return results, nil
	}

	candidates, err := m.store.List(ctx, ltm.Filter{MaxSequenceID: vq.MaxSequenceID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	results := ltm.Rank(candidates, vq)
	log.DebugContext(ctx, "Recalled memories",
		"candidates", len(candidates),
		"count", len(results),
	)
	return results, nil
}

// Forget removes every memory whose text matches exactly.
func (m *Manager) Forget(ctx context.Context, text string) (int, error) {
	n, err := m.store.DeleteByText(ctx, text)
	if err != nil {
		return 0, errors.Wrap(err, "failed to forget memory")
	}
	if n > 0 {
		m.notify(ctx, Event{Kind: EventRemoved, Text: text, Count: n})
	}
	return n, nil
}

// ForgetAllAtOrAfter removes every memory recorded at step seq or later.
func (m *Manager) ForgetAllAtOrAfter(ctx context.Context, seq int64) (int, error) {
	n, err := m.store.DeleteFromSequence(ctx, seq)
	if err != nil {
		return 0, errors.Wrap(err, "failed to forget memories from step %d", seq)
	}
	if n > 0 {
		m.notify(ctx, Event{Kind: EventRemoved, SequenceID: seq, Count: n})
	}
	return n, nil
}

// ForgetAllForStep removes every memory recorded at exactly step seq.
func (m *Manager) ForgetAllForStep(ctx context.Context, seq int64) (int, error) {
	n, err := m.store.DeleteSequence(ctx, seq)
	if err != nil {
		return 0, errors.Wrap(err, "failed to forget memories of step %d", seq)
	}
	if n > 0 {
		m.notify(ctx, Event{Kind: EventRemoved, SequenceID: seq, Count: n})
	}
	return n, nil
}

// Exists reports whether a memory with exactly this text is stored.
func (m *Manager) Exists(ctx context.Context, text string) (bool, error) {
	return m.store.Exists(ctx, text)
}

// Clear removes every memory of the game.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "failed to clear memories")
	}
	m.notify(ctx, Event{Kind: EventCleared})
	return nil
}

// Subscribe registers l and returns a function that unregisters it.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.listeners, id)
		})
	}
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	if gameCtx, ok := entity.GetGameContext(ctx); ok {
		ev.GameID = gameCtx.GameID
	}

	m.mu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (m *Manager) pushdown() ltm.VectorCapableStore {
	if !m.config.UseVectorSearch {
		return nil
	}
	if vs, ok := m.store.(ltm.VectorCapableStore); ok && vs.SupportsVectorSearch() {
		return vs
	}
	return nil
}

// embed produces the retrieval-side vector for firstTask and the semantic
// vector for text.
func (m *Manager) embed(ctx context.Context, text string, firstTask reasoning.EmbeddingTask) ([]float64, []float64, error) {
	if m.embedder == nil {
		return nil, nil, fmt.Errorf("%w: no embedding generator configured", errors.ErrEmbeddingFailure)
	}

	retrieval, err := m.embedOne(ctx, text, firstTask)
	if err != nil {
		return nil, nil, err
	}
	semantic, err := m.embedOne(ctx, text, reasoning.TaskSemanticSimilarity)
	if err != nil {
		return nil, nil, err
	}
	return retrieval, semantic, nil
}

func (m *Manager) embedOne(ctx context.Context, text string, task reasoning.EmbeddingTask) ([]float64, error) {
	vectors, err := m.embedder.GenerateEmbeddings(ctx, []string{text}, task)
	if err != nil {
		log.WarnContext(ctx, "Embedding generation failed", "task", task, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrEmbeddingFailure, task, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: %s returned no vector", errors.ErrEmbeddingFailure, task)
	}
	for _, v := range vectors[0] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s returned a non-finite vector", errors.ErrEmbeddingFailure, task)
		}
	}
	return vectors[0], nil
}

// CosineSimilarity is the normalized dot product of a and b, 0 for zero,
// mismatched or non-finite inputs.
func CosineSimilarity(a, b []float64) float64 {
	return ltm.CosineSimilarity(a, b)
}

package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/reasoning"
)

// ErrMock is returned by a MockEngine configured to fail.
var ErrMock = errors.New("mock reasoning engine error")

// Call represents a recorded method call on the mock engine.
type Call struct {
	// Method is the name of the method that was called.
	Method string

	// Args contains the arguments passed to the method.
	Args []interface{}
}

// MockEngine implements the reasoning.Engine interface with canned responses.
type MockEngine struct {
	mutex sync.RWMutex

	cannedResponses map[string]string
	defaultResponse string

	// cannedEmbeddings is keyed by text; taskEmbeddings overrides it per task.
	cannedEmbeddings map[string][]float64
	taskEmbeddings   map[reasoning.EmbeddingTask]map[string][]float64
	defaultEmbedding []float64

	exactMatch  bool
	shouldError bool
	failTasks   map[reasoning.EmbeddingTask]bool

	callHistory []Call
}

// MockOption is a function that configures a MockEngine.
type MockOption func(*MockEngine)

// WithDefaultResponse sets the default response for the mock engine.
func WithDefaultResponse(resp string) MockOption {
	return func(m *MockEngine) {
		m.defaultResponse = resp
	}
}

// WithDefaultEmbedding sets the embedding returned for unknown texts.
func WithDefaultEmbedding(embedding []float64) MockOption {
	return func(m *MockEngine) {
		m.defaultEmbedding = embedding
	}
}

// WithExactMatch configures whether prompt matching is exact or by substring.
func WithExactMatch(exact bool) MockOption {
	return func(m *MockEngine) {
		m.exactMatch = exact
	}
}

// WithShouldError configures whether every call returns an error.
func WithShouldError(shouldErr bool) MockOption {
	return func(m *MockEngine) {
		m.shouldError = shouldErr
	}
}

// WithFailingTask makes embedding generation fail for one task only.
func WithFailingTask(task reasoning.EmbeddingTask) MockOption {
	return func(m *MockEngine) {
		m.failTasks[task] = true
	}
}

// NewMockEngine creates a new MockEngine with the given options.
func NewMockEngine(opts ...MockOption) *MockEngine {
	m := &MockEngine{
		cannedResponses:  make(map[string]string),
		defaultResponse:  "This is a mock response",
		cannedEmbeddings: make(map[string][]float64),
		taskEmbeddings:   make(map[reasoning.EmbeddingTask]map[string][]float64),
		defaultEmbedding: []float64{0.0, 0.0, 0.0},
		failTasks:        make(map[reasoning.EmbeddingTask]bool),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Process implements the reasoning.Engine interface.
func (m *MockEngine) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method: "Process",
		Args:   []interface{}{prompt},
	})

	if m.shouldError {
		return "", ErrMock
	}

	if m.exactMatch {
		if response, ok := m.cannedResponses[prompt]; ok {
			return response, nil
		}
		return m.defaultResponse, nil
	}

	// Longest key wins so that overlapping substrings stay deterministic.
	keys := make([]string, 0, len(m.cannedResponses))
	for key := range m.cannedResponses {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		if strings.Contains(prompt, key) {
			return m.cannedResponses[key], nil
		}
	}

	return m.defaultResponse, nil
}

// GenerateEmbeddings implements the reasoning.Embedder interface.
func (m *MockEngine) GenerateEmbeddings(ctx context.Context, texts []string, task reasoning.EmbeddingTask) ([][]float64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method: "GenerateEmbeddings",
		Args:   []interface{}{texts, task},
	})

	if m.shouldError || m.failTasks[task] {
		return nil, fmt.Errorf("%w: task %s", ErrMock, task)
	}

	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		var vec []float64
		if byTask, ok := m.taskEmbeddings[task]; ok {
			vec = byTask[text]
		}
		if vec == nil {
			vec = m.cannedEmbeddings[text]
		}
		if vec == nil {
			vec = m.defaultEmbedding
		}
		embeddings[i] = append([]float64(nil), vec...)
	}

	return embeddings, nil
}

// AddResponse adds a canned response for prompts matching the given key.
func (m *MockEngine) AddResponse(prompt, response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cannedResponses[prompt] = response
}

// SetDefaultResponse sets the default response.
func (m *MockEngine) SetDefaultResponse(response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.defaultResponse = response
}

// AddEmbedding adds a canned embedding for a text, used for every task.
func (m *MockEngine) AddEmbedding(text string, embedding []float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cannedEmbeddings[text] = embedding
}

// AddTaskEmbedding adds a canned embedding for a text under one task.
func (m *MockEngine) AddTaskEmbedding(task reasoning.EmbeddingTask, text string, embedding []float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.taskEmbeddings[task] == nil {
		m.taskEmbeddings[task] = make(map[string][]float64)
	}
	m.taskEmbeddings[task][text] = embedding
}

// SetDefaultEmbedding sets the default embedding.
func (m *MockEngine) SetDefaultEmbedding(embedding []float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.defaultEmbedding = embedding
}

// SetShouldError configures whether the engine returns errors.
func (m *MockEngine) SetShouldError(shouldErr bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.shouldError = shouldErr
	log.Debug("Set should error mode", "should_error", shouldErr)
}

// GetCallHistory returns a copy of the call history.
func (m *MockEngine) GetCallHistory() []Call {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	history := make([]Call, len(m.callHistory))
	copy(history, m.callHistory)
	return history
}

// ClearHistory clears the call history.
func (m *MockEngine) ClearHistory() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = nil
}

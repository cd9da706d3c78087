package reasoning

import (
	"context"
)

// EmbeddingTask selects which embedding space a vector is generated for.
// Documents and queries use different retrieval tasks; semantic similarity
// is symmetric and shared by both.
type EmbeddingTask string

const (
	// TaskRetrievalDocument embeds text that is stored for later retrieval.
	TaskRetrievalDocument EmbeddingTask = "retrieval_document"

	// TaskRetrievalQuery embeds text used to search stored documents.
	TaskRetrievalQuery EmbeddingTask = "retrieval_query"

	// TaskSemanticSimilarity embeds text for symmetric similarity comparison.
	TaskSemanticSimilarity EmbeddingTask = "semantic_similarity"
)

// Option is a function that configures a reasoning process.
type Option func(*Options)

// Options holds configuration for a reasoning request.
type Options struct {
	// Temperature controls randomness in generation (0.0-1.0)
	Temperature float64

	// MaxTokens limits the length of the generated response
	MaxTokens int

	// Model specifies which model variant to use
	Model string

	// JSONResponse asks the provider for a JSON object response where supported
	JSONResponse bool
}

// DefaultOptions returns default reasoning options.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

// WithTemperature sets the temperature option.
func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the max tokens option.
func WithMaxTokens(tokens int) Option {
	return func(o *Options) {
		o.MaxTokens = tokens
	}
}

// WithModel sets the model option.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithJSONResponse requests a JSON object response.
func WithJSONResponse() Option {
	return func(o *Options) {
		o.JSONResponse = true
	}
}

// Embedder turns text into task-specific vectors.
type Embedder interface {
	// GenerateEmbeddings returns one vector per input text, in order.
	GenerateEmbeddings(ctx context.Context, texts []string, task EmbeddingTask) ([][]float64, error)
}

// Engine is the interface for reasoning engines (LLMs).
type Engine interface {
	Embedder

	// Process sends a prompt to the reasoning engine and returns the result.
	Process(ctx context.Context, prompt string, opts ...Option) (string, error)
}

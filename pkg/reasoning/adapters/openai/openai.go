package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/reasoning"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")

	// ErrEmbeddingCount is returned when the API returns fewer vectors than inputs.
	ErrEmbeddingCount = errors.New("embedding count does not match input count")
)

// Config holds the configuration for the OpenAI adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// ChatModel is the model used for deviation judgments and narration.
	ChatModel string
	// RetrievalEmbeddingModel embeds documents and queries for retrieval.
	RetrievalEmbeddingModel string
	// SemanticEmbeddingModel embeds text for semantic similarity.
	SemanticEmbeddingModel string
	// TaskPrefixes are prepended to input text per task, for models that are
	// trained with instruction prefixes (e.g. "search_query: ").
	TaskPrefixes map[reasoning.EmbeddingTask]string
	// Dimensions truncates embeddings on models that support it (0 keeps the default).
	Dimensions int
	// BaseURL is the base URL for the API (OpenAI-compatible servers, tests).
	BaseURL string
}

// OpenAIAdapter implements the reasoning.Engine interface using the OpenAI API.
type OpenAIAdapter struct {
	client       *openai.Client
	chatModel    string
	models       map[reasoning.EmbeddingTask]string
	taskPrefixes map[reasoning.EmbeddingTask]string
	dimensions   int
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(config Config) (*OpenAIAdapter, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	if config.ChatModel == "" {
		config.ChatModel = openai.GPT4oMini
	}
	if config.RetrievalEmbeddingModel == "" {
		config.RetrievalEmbeddingModel = string(openai.SmallEmbedding3)
	}
	if config.SemanticEmbeddingModel == "" {
		config.SemanticEmbeddingModel = config.RetrievalEmbeddingModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	prefixes := make(map[reasoning.EmbeddingTask]string, len(config.TaskPrefixes))
	for task, prefix := range config.TaskPrefixes {
		prefixes[task] = prefix
	}

	return &OpenAIAdapter{
		client:    openai.NewClientWithConfig(clientConfig),
		chatModel: config.ChatModel,
		models: map[reasoning.EmbeddingTask]string{
			reasoning.TaskRetrievalDocument:  config.RetrievalEmbeddingModel,
			reasoning.TaskRetrievalQuery:     config.RetrievalEmbeddingModel,
			reasoning.TaskSemanticSimilarity: config.SemanticEmbeddingModel,
		},
		taskPrefixes: prefixes,
		dimensions:   config.Dimensions,
	}, nil
}

// GenerateEmbeddings generates embeddings for the given texts using the model
// configured for task.
func (a *OpenAIAdapter) GenerateEmbeddings(ctx context.Context, texts []string, task reasoning.EmbeddingTask) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	model, ok := a.models[task]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding task: %s", task)
	}

	input := texts
	if prefix := a.taskPrefixes[task]; prefix != "" {
		input = make([]string, len(texts))
		for i, text := range texts {
			input[i] = prefix + text
		}
	}

	log.Debug("Generating embeddings", "count", len(texts), "model", model, "task", task)

	response, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      input,
		Model:      openai.EmbeddingModel(model),
		Dimensions: a.dimensions,
	})
	if err != nil {
		log.Error("Failed to generate embeddings", "error", err, "task", task)
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d inputs", ErrEmbeddingCount, len(response.Data), len(texts))
	}

	data := response.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float64, len(data))
	for i, d := range data {
		vec := make([]float64, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float64(v)
		}
		embeddings[i] = vec
	}

	return embeddings, nil
}

// ProcessMessages generates a response to the given chat messages.
func (a *OpenAIAdapter) ProcessMessages(ctx context.Context, messages []openai.ChatCompletionMessage, opts ...reasoning.Option) (string, error) {
	options := reasoning.DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	model := a.chatModel
	if options.Model != "" {
		model = options.Model
	}

	log.Debug("Processing chat request", "model", model, "messages", len(messages))

	request := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	}
	if options.JSONResponse {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	response, err := a.client.CreateChatCompletion(ctx, request)
	if err != nil {
		log.Error("Failed to generate chat completion", "error", err)
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no response choices returned")
	}

	log.Debug("Generated chat completion", "tokens", response.Usage.TotalTokens, "model", model)

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Process implements the reasoning.Engine interface with a single user message.
func (a *OpenAIAdapter) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	return a.ProcessMessages(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, opts...)
}

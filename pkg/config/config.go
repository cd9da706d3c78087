package config

// Config represents the top-level configuration for a saga game.
type Config struct {
	// Memory configures the memory store backend and recall tunables
	Memory MemoryConfig `yaml:"memory"`

	// Reasoning configures the reasoning engine (LLM)
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Campaign configures the campaign tracker
	Campaign CampaignConfig `yaml:"campaign"`

	// Scripting configures the Lua scripting engine
	Scripting ScriptingConfig `yaml:"scripting"`

	// Session configures the game session
	Session SessionConfig `yaml:"session"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	// Type specifies the backend ("mock", "boltdb", "sqlite", "postgres", "pgvector", "chromemgo")
	Type string `yaml:"type"`

	BoltDB    BoltDBConfig    `yaml:"boltdb"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	PgVector  PgVectorConfig  `yaml:"pgvector"`
	ChromemGo ChromemGoConfig `yaml:"chromemgo"`

	// Threshold is the minimum recall score, in [-1, 1]
	Threshold *float64 `yaml:"threshold"`

	// CausalBuffer is how many steps a memory ages before it can be recalled
	CausalBuffer *int64 `yaml:"causal_buffer"`

	// MaxResults is the default number of recalled memories
	MaxResults int `yaml:"max_results"`

	// UseVectorSearch lets recall run inside backends that support it
	UseVectorSearch *bool `yaml:"use_vector_search"`
}

// BoltDBConfig configures the bbolt backend.
type BoltDBConfig struct {
	// Path is the database file
	Path string `yaml:"path"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file
	Path string `yaml:"path"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	// DSN is the data source name (connection string)
	DSN string `yaml:"dsn"`
}

// PgVectorConfig configures PostgreSQL with the pgvector extension.
type PgVectorConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string `yaml:"connection_string"`

	// TableName is the name of the table to use
	TableName string `yaml:"table_name"`

	// Dimensions specifies the embedding dimensions
	Dimensions int `yaml:"dimensions"`
}

// ChromemGoConfig configures the in-process chromem-go backend.
type ChromemGoConfig struct {
	// Collection is the base collection name
	Collection string `yaml:"collection"`
}

// ReasoningConfig configures the reasoning engine (LLM).
type ReasoningConfig struct {
	// Provider is the LLM provider ("openai", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures OpenAI integration
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures OpenAI integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// BaseURL points at an OpenAI-compatible server
	BaseURL string `yaml:"base_url"`

	// ChatModel is used for narration and deviation judgments
	ChatModel string `yaml:"chat_model"`

	// RetrievalEmbeddingModel embeds documents and queries
	RetrievalEmbeddingModel string `yaml:"retrieval_embedding_model"`

	// SemanticEmbeddingModel embeds text for semantic similarity
	SemanticEmbeddingModel string `yaml:"semantic_embedding_model"`

	// TaskPrefixes maps an embedding task name to an input prefix
	TaskPrefixes map[string]string `yaml:"task_prefixes"`

	// Dimensions truncates embeddings where the model supports it
	Dimensions int `yaml:"dimensions"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls randomness in narration (0.0-2.0)
	Temperature float64 `yaml:"temperature"`
}

// CampaignConfig configures the campaign tracker.
type CampaignConfig struct {
	// Path is the YAML or JSON campaign file; empty plays without a plan
	Path string `yaml:"path"`

	// DeviationInterval is how many actions pass between deviation checks
	DeviationInterval int `yaml:"deviation_interval"`

	// NudgeThreshold is the deviation score a nudge must exceed, 0..100
	NudgeThreshold *int `yaml:"nudge_threshold"`

	ChapterTag string `yaml:"chapter_tag"`
	PlotTag    string `yaml:"plot_tag"`

	// JudgeModel overrides the chat model for deviation judgments
	JudgeModel string `yaml:"judge_model"`
}

// ScriptingConfig configures the Lua scripting engine.
type ScriptingConfig struct {
	// Paths is a list of directories containing Lua scripts
	Paths []string `yaml:"paths"`

	// RefillPolicy selects how resting refills resources ("max", "start", "lua")
	RefillPolicy string `yaml:"refill_policy"`

	// RefillFunction is the Lua function the "lua" policy calls
	RefillFunction string `yaml:"refill_function"`

	// TimeoutMs bounds each Lua call
	TimeoutMs int `yaml:"timeout_ms"`
}

// SessionConfig configures the game session.
type SessionConfig struct {
	// GameID isolates this game's memories from other games in the same store
	GameID string `yaml:"game_id"`

	// CharacterID names the player character
	CharacterID string `yaml:"character_id"`

	// RememberRetries bounds retries of a failed memory write
	RememberRetries int `yaml:"remember_retries"`

	// Resources are the character's starting resource definitions
	Resources map[string]ResourceConfig `yaml:"resources"`
}

// ResourceConfig is a resource definition in configuration form.
type ResourceConfig struct {
	MaxValue         float64  `yaml:"max_value"`
	StartValue       *float64 `yaml:"start_value"`
	GameEndsWhenZero bool     `yaml:"game_ends_when_zero"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is "text" or "json"
	Format string `yaml:"format"`
}

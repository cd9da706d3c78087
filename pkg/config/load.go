package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by validation when a value is left unset.
const (
	DefaultMemoryType        = "boltdb"
	DefaultBoltDBPath        = "saga.db"
	DefaultSQLitePath        = "saga.sqlite"
	DefaultPgVectorTable     = "memory_vectors"
	DefaultPgVectorDims      = 1536
	DefaultChromemCollection = "memories"
	DefaultThreshold         = 0.5968
	DefaultCausalBuffer      = 10
	DefaultMaxResults        = 3
	DefaultDeviationInterval = 5
	DefaultNudgeThreshold    = 50
	DefaultChapterTag        = "CHAPTER_ID: "
	DefaultPlotTag           = "PLOT_ID: "
	DefaultRefillPolicy      = "max"
	DefaultRefillFunction    = "refill_value"
	DefaultScriptTimeoutMs   = 1000
	DefaultRememberRetries   = 3
	DefaultGameID            = "default"
	DefaultCharacterID       = "hero"
	DefaultTemperature       = 0.8
	DefaultMaxTokens         = 1024
)

// Default returns the configuration of an empty file: every default
// applied on top of the environment overrides.
func Default() (*Config, error) {
	return LoadFromBytes(nil)
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	if memType := os.Getenv("SAGA_MEMORY_TYPE"); memType != "" {
		config.Memory.Type = memType
	}

	if path := os.Getenv("SAGA_BOLTDB_PATH"); path != "" {
		config.Memory.BoltDB.Path = path
	}

	if path := os.Getenv("SAGA_SQLITE_PATH"); path != "" {
		config.Memory.SQLite.Path = path
	}

	if dsn := os.Getenv("SAGA_POSTGRES_DSN"); dsn != "" {
		config.Memory.Postgres.DSN = dsn
	}

	// PgVector connection string override
	if connStr := os.Getenv("PGVECTOR_URL"); connStr != "" {
		config.Memory.PgVector.ConnectionString = connStr
	}

	// OpenAI API key override
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Reasoning.OpenAI.APIKey = apiKey
	}

	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.Reasoning.OpenAI.BaseURL = baseURL
	}

	if level := os.Getenv("SAGA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate checks config and fills every unset field with its default.
// Configurations built in code must pass through it before use; it is
// safe to call more than once.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := validateMemory(&config.Memory); err != nil {
		return err
	}

	// Validate reasoning configuration
	config.Reasoning.Provider = strings.ToLower(config.Reasoning.Provider)
	switch config.Reasoning.Provider {
	case "":
		config.Reasoning.Provider = "mock"
	case "mock":
	case "openai":
		// API key can be provided via environment variable, so it is checked when the adapter is built
		if config.Reasoning.OpenAI.ChatModel == "" {
			config.Reasoning.OpenAI.ChatModel = "gpt-4o-mini"
		}
		if config.Reasoning.OpenAI.RetrievalEmbeddingModel == "" {
			config.Reasoning.OpenAI.RetrievalEmbeddingModel = "text-embedding-3-small"
		}
		for task := range config.Reasoning.OpenAI.TaskPrefixes {
			switch task {
			case "retrieval_document", "retrieval_query", "semantic_similarity":
			default:
				return fmt.Errorf("unknown embedding task in task_prefixes: %s", task)
			}
		}
	default:
		return fmt.Errorf("unsupported reasoning provider: %s", config.Reasoning.Provider)
	}
	if config.Reasoning.OpenAI.Temperature < 0 || config.Reasoning.OpenAI.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", config.Reasoning.OpenAI.Temperature)
	}
	if config.Reasoning.OpenAI.Temperature == 0 {
		config.Reasoning.OpenAI.Temperature = DefaultTemperature
	}
	if config.Reasoning.OpenAI.MaxTokens <= 0 {
		config.Reasoning.OpenAI.MaxTokens = DefaultMaxTokens
	}

	if err := validateCampaign(&config.Campaign); err != nil {
		return err
	}

	// Validate scripting configuration
	config.Scripting.RefillPolicy = strings.ToLower(config.Scripting.RefillPolicy)
	switch config.Scripting.RefillPolicy {
	case "":
		config.Scripting.RefillPolicy = DefaultRefillPolicy
	case "max", "start":
	case "lua":
		if len(config.Scripting.Paths) == 0 {
			return fmt.Errorf("scripting paths are required for the lua refill policy")
		}
	default:
		return fmt.Errorf("unsupported refill policy: %s", config.Scripting.RefillPolicy)
	}
	if config.Scripting.RefillFunction == "" {
		config.Scripting.RefillFunction = DefaultRefillFunction
	}
	if config.Scripting.TimeoutMs <= 0 {
		config.Scripting.TimeoutMs = DefaultScriptTimeoutMs
	}

	// Validate session configuration
	if config.Session.GameID == "" {
		config.Session.GameID = DefaultGameID
	}
	if config.Session.CharacterID == "" {
		config.Session.CharacterID = DefaultCharacterID
	}
	if config.Session.RememberRetries < 0 {
		return fmt.Errorf("remember_retries cannot be negative")
	}
	if config.Session.RememberRetries == 0 {
		config.Session.RememberRetries = DefaultRememberRetries
	}
	for key, res := range config.Session.Resources {
		if res.MaxValue < 0 {
			return fmt.Errorf("resource %s: max_value cannot be negative", key)
		}
		if res.StartValue != nil && *res.StartValue > res.MaxValue {
			return fmt.Errorf("resource %s: start_value exceeds max_value", key)
		}
	}

	// Validate logging configuration
	switch strings.ToLower(config.Logging.Level) {
	case "":
		config.Logging.Level = "info"
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", config.Logging.Level)
	}
	switch strings.ToLower(config.Logging.Format) {
	case "":
		config.Logging.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", config.Logging.Format)
	}

	return nil
}

func validateMemory(mem *MemoryConfig) error {
	mem.Type = strings.ToLower(mem.Type)
	switch mem.Type {
	case "":
		mem.Type = DefaultMemoryType
		if mem.BoltDB.Path == "" {
			mem.BoltDB.Path = DefaultBoltDBPath
		}
	case "mock":
		// Mock store doesn't require additional validation
	case "boltdb", "bolt":
		mem.Type = "boltdb"
		if mem.BoltDB.Path == "" {
			mem.BoltDB.Path = DefaultBoltDBPath
		}
	case "sqlite", "sqlite3":
		mem.Type = "sqlite"
		if mem.SQLite.Path == "" {
			mem.SQLite.Path = DefaultSQLitePath
		}
	case "postgres":
		if mem.Postgres.DSN == "" {
			return fmt.Errorf("postgres DSN is required for postgres memory type")
		}
	case "pgvector":
		if mem.PgVector.ConnectionString == "" {
			return fmt.Errorf("connection string is required for pgvector memory type")
		}
		if mem.PgVector.TableName == "" {
			mem.PgVector.TableName = DefaultPgVectorTable
		}
		if mem.PgVector.Dimensions <= 0 {
			mem.PgVector.Dimensions = DefaultPgVectorDims
		}
	case "chromemgo", "chromem":
		mem.Type = "chromemgo"
		if mem.ChromemGo.Collection == "" {
			mem.ChromemGo.Collection = DefaultChromemCollection
		}
	default:
		return fmt.Errorf("unsupported memory type: %s", mem.Type)
	}

	if mem.Threshold == nil {
		t := DefaultThreshold
		mem.Threshold = &t
	} else if *mem.Threshold < -1 || *mem.Threshold > 1 {
		return fmt.Errorf("memory threshold must be within [-1, 1], got %v", *mem.Threshold)
	}

	if mem.CausalBuffer == nil {
		b := int64(DefaultCausalBuffer)
		mem.CausalBuffer = &b
	} else if *mem.CausalBuffer < 0 {
		return fmt.Errorf("causal_buffer cannot be negative, got %d", *mem.CausalBuffer)
	}

	if mem.MaxResults < 0 {
		return fmt.Errorf("max_results cannot be negative, got %d", mem.MaxResults)
	}
	if mem.MaxResults == 0 {
		mem.MaxResults = DefaultMaxResults
	}

	if mem.UseVectorSearch == nil {
		v := true
		mem.UseVectorSearch = &v
	}
	return nil
}

func validateCampaign(c *CampaignConfig) error {
	if c.DeviationInterval < 0 {
		return fmt.Errorf("deviation_interval must be positive, got %d", c.DeviationInterval)
	}
	if c.DeviationInterval == 0 {
		c.DeviationInterval = DefaultDeviationInterval
	}

	// deviation scores are 0..100
	if c.NudgeThreshold == nil {
		n := DefaultNudgeThreshold
		c.NudgeThreshold = &n
	} else if *c.NudgeThreshold < 0 || *c.NudgeThreshold > 100 {
		return fmt.Errorf("nudge_threshold must be within 0..100, got %d", *c.NudgeThreshold)
	}

	if c.ChapterTag == "" {
		c.ChapterTag = DefaultChapterTag
	}
	if c.PlotTag == "" {
		c.PlotTag = DefaultPlotTag
	}
	return nil
}

package game

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lexlapax/saga/pkg/campaign"
	"github.com/lexlapax/saga/pkg/campaign/judge"
	"github.com/lexlapax/saga/pkg/config"
	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/ledger"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	"github.com/lexlapax/saga/pkg/mem/ltm/adapters/kv/boltdb"
	ltmMock "github.com/lexlapax/saga/pkg/mem/ltm/adapters/mock"
	"github.com/lexlapax/saga/pkg/mem/ltm/adapters/sqlstore/postgres"
	"github.com/lexlapax/saga/pkg/mem/ltm/adapters/sqlstore/sqlite"
	"github.com/lexlapax/saga/pkg/mem/ltm/adapters/vector/chromem_go"
	"github.com/lexlapax/saga/pkg/mem/ltm/adapters/vector/pgvector"
	"github.com/lexlapax/saga/pkg/memory"
	"github.com/lexlapax/saga/pkg/reasoning"
	reasoningMock "github.com/lexlapax/saga/pkg/reasoning/adapters/mock"
	reasoningOpenAI "github.com/lexlapax/saga/pkg/reasoning/adapters/openai"
	"github.com/lexlapax/saga/pkg/scripting"

	chromem "github.com/philippgille/chromem-go"
)

// NewFromConfig builds a session and every component it needs from cfg.
// Close the session to release the store and the scripting engine.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Session, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	store, closeStore, err := initStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	engine, err := initReasoningEngine(cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to initialize reasoning engine: %w", err)
	}

	policy, closePolicy, err := initRefillPolicy(cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to initialize refill policy: %w", err)
	}
	if closePolicy != nil {
		closers = append(closers, closePolicy)
	}

	var plan *campaign.Campaign
	if cfg.Campaign.Path != "" {
		plan, err = campaign.LoadFile(cfg.Campaign.Path)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to load campaign: %w", err)
		}
	}
	tracker := campaign.NewTracker(plan, campaign.Config{
		DeviationInterval: cfg.Campaign.DeviationInterval,
		NudgeThreshold:    *cfg.Campaign.NudgeThreshold,
		ChapterTag:        cfg.Campaign.ChapterTag,
		PlotTag:           cfg.Campaign.PlotTag,
	})

	judgeConfig := judge.DefaultConfig()
	judgeConfig.Model = cfg.Campaign.JudgeModel
	judgeConfig.ChapterTag = cfg.Campaign.ChapterTag
	judgeConfig.PlotTag = cfg.Campaign.PlotTag

	narratorConfig := DefaultNarratorConfig()
	narratorConfig.Temperature = cfg.Reasoning.OpenAI.Temperature
	narratorConfig.MaxTokens = cfg.Reasoning.OpenAI.MaxTokens

	manager := memory.NewManager(store, engine, memory.Config{
		Threshold:       *cfg.Memory.Threshold,
		CausalBuffer:    *cfg.Memory.CausalBuffer,
		DefaultK:        cfg.Memory.MaxResults,
		UseVectorSearch: *cfg.Memory.UseVectorSearch,
	})

	sessionConfig := DefaultConfig()
	sessionConfig.Resources = resourceDefinitions(cfg.Session.Resources)
	sessionConfig.RefillPolicy = policy
	sessionConfig.RememberRetries = cfg.Session.RememberRetries

	session := NewSession(
		entity.NewContext(entity.GameID(cfg.Session.GameID), cfg.Session.CharacterID),
		manager,
		NewLLMNarrator(engine, narratorConfig),
		tracker,
		judge.New(engine, judgeConfig),
		sessionConfig,
	)
	session.closers = closers

	log.Info("Game session initialized from config",
		"memory_type", cfg.Memory.Type,
		"reasoning_provider", cfg.Reasoning.Provider,
		"refill_policy", cfg.Scripting.RefillPolicy,
		"campaign", cfg.Campaign.Path,
	)
	return session, nil
}

// initStore opens the configured memory backend.
func initStore(ctx context.Context, cfg *config.Config) (ltm.Store, func() error, error) {
	mem := cfg.Memory
	log.Info("Initializing memory store", "type", mem.Type)

	switch mem.Type {
	case "mock":
		return ltmMock.NewMockStore(), nil, nil

	case "boltdb":
		if err := ensureDir(mem.BoltDB.Path); err != nil {
			return nil, nil, err
		}
		store, err := boltdb.Open(ctx, mem.BoltDB.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "sqlite":
		if err := ensureDir(mem.SQLite.Path); err != nil {
			return nil, nil, err
		}
		store, err := sqlite.Open(ctx, mem.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "postgres":
		store, err := postgres.Open(ctx, mem.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "pgvector":
		store, err := pgvector.NewPgvectorAdapter(ctx, pgvector.PgvectorConfig{
			ConnectionString: mem.PgVector.ConnectionString,
			TableName:        mem.PgVector.TableName,
			DimensionSize:    mem.PgVector.Dimensions,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { store.Close(); return nil }, nil

	case "chromemgo":
		store, err := chromem_go.NewChromemGoAdapterWithConfig(chromem.NewDB(), chromem_go.ChromemGoConfig{
			Collection: mem.ChromemGo.Collection,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported memory store type: %s", mem.Type)
	}
}

// initReasoningEngine initializes the reasoning engine based on configuration
func initReasoningEngine(cfg *config.Config) (reasoning.Engine, error) {
	log.Info("Initializing reasoning engine", "provider", cfg.Reasoning.Provider)

	switch cfg.Reasoning.Provider {
	case "mock":
		return reasoningMock.NewMockEngine(), nil

	case "openai":
		oc := cfg.Reasoning.OpenAI
		if oc.APIKey == "" {
			log.Warn("OpenAI API key not found, falling back to mock engine")
			return reasoningMock.NewMockEngine(), nil
		}

		prefixes := make(map[reasoning.EmbeddingTask]string, len(oc.TaskPrefixes))
		for task, prefix := range oc.TaskPrefixes {
			prefixes[reasoning.EmbeddingTask(task)] = prefix
		}
		log.Info("Using OpenAI reasoning engine",
			"chat_model", oc.ChatModel,
			"retrieval_embedding_model", oc.RetrievalEmbeddingModel,
			"semantic_embedding_model", oc.SemanticEmbeddingModel,
		)
		adapter, err := reasoningOpenAI.NewOpenAIAdapter(reasoningOpenAI.Config{
			APIKey:                  oc.APIKey,
			BaseURL:                 oc.BaseURL,
			ChatModel:               oc.ChatModel,
			RetrievalEmbeddingModel: oc.RetrievalEmbeddingModel,
			SemanticEmbeddingModel:  oc.SemanticEmbeddingModel,
			TaskPrefixes:            prefixes,
			Dimensions:              oc.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("unsupported reasoning provider: %s", cfg.Reasoning.Provider)
	}
}

// initRefillPolicy picks the resting policy. The "lua" policy loads every
// script directory and requires the refill function to exist.
func initRefillPolicy(cfg *config.Config) (ledger.RefillPolicy, func() error, error) {
	switch cfg.Scripting.RefillPolicy {
	case "start":
		return ledger.StartValueRefill, nil, nil
	case "lua":
	default:
		return ledger.MaxValueRefill, nil, nil
	}

	scriptConfig := scripting.DefaultConfig()
	scriptConfig.ScriptTimeoutMs = cfg.Scripting.TimeoutMs
	engine, err := scripting.NewLuaEngine(scriptConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Lua engine: %w", err)
	}

	for _, dir := range cfg.Scripting.Paths {
		abs, err := filepath.Abs(dir)
		if err != nil {
			engine.Close()
			return nil, nil, err
		}
		if err := engine.LoadScriptDir(abs); err != nil {
			engine.Close()
			return nil, nil, fmt.Errorf("failed to load scripts from %s: %w", abs, err)
		}
		log.Info("Loaded scripts", "path", abs)
	}

	if !engine.HasFunction(cfg.Scripting.RefillFunction) {
		engine.Close()
		return nil, nil, fmt.Errorf("%w: %s", scripting.ErrFunctionNotFound, cfg.Scripting.RefillFunction)
	}
	return ledger.NewLuaRefillPolicy(engine, cfg.Scripting.RefillFunction), engine.Close, nil
}

func resourceDefinitions(resources map[string]config.ResourceConfig) ledger.ResourceDefinitions {
	defs := make(ledger.ResourceDefinitions, len(resources))
	for key, res := range resources {
		def := ledger.ResourceDefinition{
			MaxValue:         res.MaxValue,
			GameEndsWhenZero: res.GameEndsWhenZero,
		}
		if res.StartValue != nil {
			v := *res.StartValue
			def.StartValue = &v
		}
		defs[key] = def
	}
	return defs
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

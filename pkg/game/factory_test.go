package game

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexlapax/saga/pkg/config"
	"github.com/lexlapax/saga/pkg/mem/ltm/adapters/kv/boltdb"
	"github.com/lexlapax/saga/pkg/mem/ltm/adapters/vector/chromem_go"
	"github.com/lexlapax/saga/pkg/scripting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refillScript = `
function refill_value(key, def)
  return def.max_value / 2
end
`

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	for _, key := range []string{"SAGA_MEMORY_TYPE", "SAGA_BOLTDB_PATH", "PGVECTOR_URL", "OPENAI_API_KEY", "SAGA_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	cfg, err := config.LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func TestNewFromConfig_LuaRefillAndCampaign(t *testing.T) {
	scripts := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "refill.lua"), []byte(refillScript), 0600))

	cfg := loadConfig(t, `
memory:
  type: mock
campaign:
  path: ../campaign/testdata/campaign.yaml
scripting:
  paths: [`+scripts+`]
  refill_policy: lua
session:
  game_id: factory-test
  resources:
    hp:
      max_value: 20
      game_ends_when_zero: true
    focus:
      max_value: 20
      start_value: 0
`)

	ctx := context.Background()
	session, err := NewFromConfig(ctx, cfg)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, "factory-test", string(session.Identity().GameID))
	chapter, ok := session.Chapter()
	require.True(t, ok)
	assert.Equal(t, 1, chapter.ChapterID)

	turn, err := session.TakeAction(ctx, "look at the harbor")
	require.NoError(t, err)
	assert.Equal(t, "This is a mock response", turn.Narration)

	entries, err := session.Rest(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "focus", entries[0].ResourceKey)
	assert.Equal(t, 10.0, entries[0].New)

	state := session.Snapshot()
	assert.Equal(t, 20.0, state.Stats.Resources["hp"].Current())
	assert.Equal(t, 10.0, state.Stats.Resources["focus"].Current())
}

func TestNewFromConfig_Stores(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
		want interface{}
	}{
		{
			name: "boltdb",
			yaml: "memory:\n  type: bolt\n  boltdb:\n    path: " + filepath.Join(dir, "nested", "saga.db") + "\n",
			want: &boltdb.BoltStore{},
		},
		{
			name: "chromem",
			yaml: "memory:\n  type: chromem\n",
			want: &chromem_go.ChromemGoAdapter{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfig(t, tt.yaml)
			store, closeStore, err := initStore(context.Background(), cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, store)
			if closeStore != nil {
				assert.NoError(t, closeStore())
			}
		})
	}
}

func TestNewFromConfig_Errors(t *testing.T) {
	scripts := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "other.lua"), []byte("function other() return 1 end"), 0600))

	cfg := loadConfig(t, "memory:\n  type: mock\nscripting:\n  paths: ["+scripts+"]\n  refill_policy: lua\n")
	_, err := NewFromConfig(context.Background(), cfg)
	assert.ErrorIs(t, err, scripting.ErrFunctionNotFound)

	cfg = loadConfig(t, "memory:\n  type: mock\ncampaign:\n  path: "+filepath.Join(scripts, "missing.yaml")+"\n")
	_, err = NewFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewFromConfig_OpenAIWithoutKeyFallsBack(t *testing.T) {
	cfg := loadConfig(t, "memory:\n  type: mock\nreasoning:\n  provider: openai\n")

	engine, err := initReasoningEngine(cfg)
	require.NoError(t, err)

	reply, err := engine.Process(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "This is a mock response", reply)
}

func TestNewFromConfig_HandBuiltConfig(t *testing.T) {
	cfg := &config.Config{
		Memory:    config.MemoryConfig{Type: "mock"},
		Reasoning: config.ReasoningConfig{Provider: "mock"},
	}

	var session *Session
	require.NotPanics(t, func() {
		var err error
		session, err = NewFromConfig(context.Background(), cfg)
		require.NoError(t, err)
	})
	defer session.Close()

	require.NotNil(t, cfg.Memory.Threshold)
	assert.Equal(t, config.DefaultThreshold, *cfg.Memory.Threshold)
	assert.Equal(t, config.DefaultCharacterID, session.Identity().CharacterID)

	turn, err := session.TakeAction(context.Background(), "wait for the tide")
	require.NoError(t, err)
	assert.Equal(t, int64(1), turn.Step)

	_, err = NewFromConfig(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewFromConfig(context.Background(), &config.Config{Memory: config.MemoryConfig{Type: "etcd"}})
	assert.ErrorContains(t, err, "unsupported memory type")
}

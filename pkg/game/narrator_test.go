package game

import (
	"context"
	"testing"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/ledger"
	"github.com/lexlapax/saga/pkg/reasoning/adapters/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNarratorDelta(t *testing.T) {
	t.Run("full delta", func(t *testing.T) {
		delta, err := ParseNarratorDelta("```json\n" + `{
			"narration": "The door creaks open.",
			"resources": {"hp": {"max_value": 10, "current_value": 4}},
			"new_resources": {"torch": {"max_value": 3, "start_value": 1}},
			"level_up": {"trait": "courage", "ability": {"name": "Rally"}},
			"in_combat": true,
			"memories": ["The door was unlocked", "  ", ""]
		}` + "\n```")
		require.NoError(t, err)

		assert.Equal(t, "The door creaks open.", delta.Narration)
		assert.Equal(t, 4.0, delta.Resources["hp"].Current())
		assert.Equal(t, 1.0, *delta.NewResources["torch"].StartValue)
		require.NotNil(t, delta.LevelUp)
		assert.Equal(t, "Rally", delta.LevelUp.Ability.Name)
		assert.True(t, delta.InCombat)
		assert.Equal(t, []string{"The door was unlocked"}, delta.Memories)
	})

	t.Run("missing current value stays undefined", func(t *testing.T) {
		delta, err := ParseNarratorDelta(`{"narration": "x", "resources": {"hp": {"max_value": 12}}}`)
		require.NoError(t, err)
		assert.False(t, delta.Resources["hp"].Defined())
	})

	t.Run("plain text is narration", func(t *testing.T) {
		delta, err := ParseNarratorDelta("You find nothing but sand.")
		require.NoError(t, err)
		assert.Equal(t, NarratorDelta{Narration: "You find nothing but sand."}, delta)
	})

	t.Run("errors", func(t *testing.T) {
		for _, bad := range []string{"", "  ", `{"narration": `} {
			_, err := ParseNarratorDelta(bad)
			assert.ErrorIs(t, err, errors.ErrInvalidInput, bad)
		}
	})
}

func TestLLMNarrator_Narrate(t *testing.T) {
	engine := mock.NewMockEngine(mock.WithDefaultResponse(`{"narration": "Bram pours you a drink.", "memories": ["Bram owes you a favor"]}`))
	cfg := DefaultNarratorConfig()
	cfg.HistoryLimit = 1
	narrator := NewLLMNarrator(engine, cfg)

	stats := ledger.NewCharacterStats(ledger.ResourceDefinitions{"hp": {MaxValue: 10}})
	delta, err := narrator.Narrate(context.Background(), NarratorRequest{
		Step:          4,
		Action:        "order an ale",
		Memories:      []string{"Bram keeps the inn"},
		Stats:         stats,
		NarrativeSeed: `{"chapter_id":1}`,
		Directive:     "Chapter 1 begins.",
		Nudge:         "A stranger bursts in.",
		History:       []string{"entered the inn", "sat at the bar"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bram pours you a drink.", delta.Narration)
	assert.Equal(t, []string{"Bram owes you a favor"}, delta.Memories)

	history := engine.GetCallHistory()
	require.Len(t, history, 1)
	prompt := history[0].Args[0].(string)
	assert.Contains(t, prompt, "order an ale")
	assert.Contains(t, prompt, "step 4")
	assert.Contains(t, prompt, "- Bram keeps the inn")
	assert.Contains(t, prompt, "Chapter 1 begins.")
	assert.Contains(t, prompt, "A stranger bursts in.")
	assert.Contains(t, prompt, `{"chapter_id":1}`)
	assert.Contains(t, prompt, `"max_value":10`)
	assert.Contains(t, prompt, "1. sat at the bar")
	assert.NotContains(t, prompt, "entered the inn")
}

func TestLLMNarrator_EngineError(t *testing.T) {
	narrator := NewLLMNarrator(mock.NewMockEngine(mock.WithShouldError(true)), DefaultNarratorConfig())

	_, err := narrator.Narrate(context.Background(), NarratorRequest{Action: "wait"})
	assert.ErrorIs(t, err, mock.ErrMock)
}

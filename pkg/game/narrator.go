package game

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/ledger"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/reasoning"
)

// NarratorRequest is everything the narrator sees for one player action.
type NarratorRequest struct {
	Step          int64
	Action        string
	Memories      []string
	Stats         ledger.CharacterStats
	NarrativeSeed string
	Directive     string
	Nudge         string
	History       []string
}

// NarratorDelta is the structured state change the narrator reports.
type NarratorDelta struct {
	// Narration is the story text shown to the player
	Narration string `json:"narration"`

	// Resources holds changed resource values
	Resources ledger.RuntimeResources `json:"resources,omitempty"`

	// NewResources introduces resource types the character did not have
	NewResources ledger.ResourceDefinitions `json:"new_resources,omitempty"`

	// LevelUp is set when the action earned a level
	LevelUp *ledger.LevelUpSpec `json:"level_up,omitempty"`

	// InCombat suspends deviation checks while true
	InCombat bool `json:"in_combat"`

	// Memories are facts worth remembering
	Memories []string `json:"memories,omitempty"`
}

// Narrator turns a player action into narration and a state delta.
type Narrator interface {
	Narrate(ctx context.Context, req NarratorRequest) (NarratorDelta, error)
}

// NarratorFunc adapts a function to the Narrator interface.
type NarratorFunc func(ctx context.Context, req NarratorRequest) (NarratorDelta, error)

// Narrate implements Narrator.
func (f NarratorFunc) Narrate(ctx context.Context, req NarratorRequest) (NarratorDelta, error) {
	return f(ctx, req)
}

// NarratorConfig contains configuration options for the LLM narrator.
type NarratorConfig struct {
	Temperature  float64
	MaxTokens    int
	Model        string
	HistoryLimit int
}

// DefaultNarratorConfig returns the default narrator configuration.
func DefaultNarratorConfig() NarratorConfig {
	return NarratorConfig{
		Temperature:  0.8,
		MaxTokens:    1024,
		HistoryLimit: 10,
	}
}

// LLMNarrator narrates through a reasoning engine that answers in JSON.
type LLMNarrator struct {
	engine reasoning.Engine
	config NarratorConfig
}

// NewLLMNarrator creates an LLMNarrator.
func NewLLMNarrator(engine reasoning.Engine, config NarratorConfig) *LLMNarrator {
	return &LLMNarrator{engine: engine, config: config}
}

// Narrate implements Narrator.
func (n *LLMNarrator) Narrate(ctx context.Context, req NarratorRequest) (NarratorDelta, error) {
	prompt, err := n.formatPrompt(req)
	if err != nil {
		return NarratorDelta{}, err
	}

	opts := []reasoning.Option{
		reasoning.WithTemperature(n.config.Temperature),
		reasoning.WithMaxTokens(n.config.MaxTokens),
		reasoning.WithJSONResponse(),
	}
	if n.config.Model != "" {
		opts = append(opts, reasoning.WithModel(n.config.Model))
	}

	response, err := n.engine.Process(ctx, prompt, opts...)
	if err != nil {
		return NarratorDelta{}, fmt.Errorf("reasoning engine narration failed: %w", err)
	}
	return ParseNarratorDelta(response)
}

func (n *LLMNarrator) formatPrompt(req NarratorRequest) (string, error) {
	stats, err := json.Marshal(req.Stats)
	if err != nil {
		return "", fmt.Errorf("failed to encode character stats: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("You are the narrator of a role-playing game.\n\n")
	if req.Directive != "" {
		sb.WriteString("Game master directive: " + req.Directive + "\n\n")
	}
	if req.NarrativeSeed != "" {
		sb.WriteString("Current chapter plan:\n" + req.NarrativeSeed + "\n\n")
	}
	if req.Nudge != "" {
		sb.WriteString("Weave this event into the scene to steer the story back on course: " + req.Nudge + "\n\n")
	}
	sb.WriteString("Character stats:\n" + string(stats) + "\n\n")

	if len(req.Memories) > 0 {
		sb.WriteString("Things the character remembers:\n")
		for _, m := range req.Memories {
			sb.WriteString("- " + m + "\n")
		}
		sb.WriteString("\n")
	}

	history := req.History
	if n.config.HistoryLimit > 0 && len(history) > n.config.HistoryLimit {
		history = history[len(history)-n.config.HistoryLimit:]
	}
	if len(history) > 0 {
		sb.WriteString("Recent actions:\n")
		for i, h := range history {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, h))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Player action (step %d):\n%s\n\n", req.Step, req.Action))
	sb.WriteString(`Respond with a JSON object with:
- "narration": what happens next, in second person
- "resources": changed resources as {"<key>": {"max_value": n, "current_value": n}}
- "new_resources": resources the character gains as {"<key>": {"max_value": n, "start_value": n, "game_ends_when_zero": bool}}
- "level_up": null, or {"trait": "...", "former_ability_name": "...", "ability": {"name": "...", "effect": "..."}}
- "in_combat": true while a fight is under way
- "memories": short facts from this turn worth remembering later

Provide valid JSON only, with no preamble or additional text.
`)
	return sb.String(), nil
}

// ParseNarratorDelta decodes a narrator response. A response that is not
// JSON is taken as plain narration with no state change.
func ParseNarratorDelta(response string) (NarratorDelta, error) {
	body := reasoning.JSONBody(response)
	if body == "" {
		return NarratorDelta{}, fmt.Errorf("%w: empty response from reasoning engine", errors.ErrInvalidInput)
	}

	var delta NarratorDelta
	if !strings.HasPrefix(body, "{") {
		log.Debug("Narrator answered in plain text", "response_length", len(body))
		return NarratorDelta{Narration: body}, nil
	}
	if err := json.Unmarshal([]byte(body), &delta); err != nil {
		return NarratorDelta{}, fmt.Errorf("%w: failed to parse narration: %v", errors.ErrInvalidInput, err)
	}

	memories := delta.Memories[:0]
	for _, m := range delta.Memories {
		if m = strings.TrimSpace(m); m != "" {
			memories = append(memories, m)
		}
	}
	delta.Memories = memories
	return delta, nil
}

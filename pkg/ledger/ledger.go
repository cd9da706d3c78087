// Package ledger keeps per-character resource and leveling state. Every
// operation takes values and returns fresh ones; nothing here aliases or
// mutates its inputs.
package ledger

import (
	"sort"
	"time"
)

// ResourceDefinition is an authored resource as character generation
// describes it.
type ResourceDefinition struct {
	MaxValue         float64  `json:"max_value" yaml:"max_value"`
	StartValue       *float64 `json:"start_value,omitempty" yaml:"start_value,omitempty"`
	GameEndsWhenZero bool     `json:"game_ends_when_zero" yaml:"game_ends_when_zero"`
}

// ResourceDefinitions maps resource keys to their definitions.
type ResourceDefinitions map[string]ResourceDefinition

// RuntimeResource is the tracked value of one resource for one character.
// CurrentValue is nil only in externally supplied state that was never
// initialized; values produced by this package always carry one.
type RuntimeResource struct {
	MaxValue         float64  `json:"max_value" yaml:"max_value"`
	CurrentValue     *float64 `json:"current_value" yaml:"current_value"`
	GameEndsWhenZero bool     `json:"game_ends_when_zero" yaml:"game_ends_when_zero"`
}

// Current returns the current value, 0 when undefined.
func (r RuntimeResource) Current() float64 {
	if r.CurrentValue == nil {
		return 0
	}
	return *r.CurrentValue
}

// Defined reports whether the resource carries a current value.
func (r RuntimeResource) Defined() bool {
	return r.CurrentValue != nil
}

// RuntimeResources maps resource keys to runtime values.
type RuntimeResources map[string]RuntimeResource

// Keys returns the resource keys in sorted order.
func (r RuntimeResources) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Keys returns the defined resource keys in sorted order.
func (d ResourceDefinitions) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ability is a spell or ability a character knows.
type Ability struct {
	Name         string             `json:"name" yaml:"name"`
	Effect       string             `json:"effect,omitempty" yaml:"effect,omitempty"`
	ResourceCost map[string]float64 `json:"resource_cost,omitempty" yaml:"resource_cost,omitempty"`
}

// CharacterStats is the aggregate the ledger maintains for one character.
type CharacterStats struct {
	Level              int              `json:"level" yaml:"level"`
	Resources          RuntimeResources `json:"resources" yaml:"resources"`
	Expertise          map[string]int   `json:"expertise" yaml:"expertise"`
	Disadvantages      map[string]int   `json:"disadvantages" yaml:"disadvantages"`
	SpellsAndAbilities []Ability        `json:"spells_and_abilities" yaml:"spells_and_abilities"`
}

// NewCharacterStats returns level-1 stats with resources normalized from defs.
func NewCharacterStats(defs ResourceDefinitions) CharacterStats {
	return CharacterStats{
		Level:              1,
		Resources:          Normalize(defs),
		Expertise:          map[string]int{},
		Disadvantages:      map[string]int{},
		SpellsAndAbilities: []Ability{},
	}
}

// LevelUpSpec describes the changes one level-up applies.
type LevelUpSpec struct {
	Resources         RuntimeResources `json:"resources,omitempty"`
	Trait             string           `json:"trait"`
	FormerAbilityName string           `json:"former_ability_name,omitempty"`
	Ability           Ability          `json:"ability"`
}

// AuditEntry records a resource change made outside of narrator deltas.
type AuditEntry struct {
	ID          string    `json:"id"`
	ResourceKey string    `json:"resource_key"`
	Previous    float64   `json:"previous"`
	New         float64   `json:"new"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// ActionRecord is one player action and the audit trail attached to it.
type ActionRecord struct {
	ID         string       `json:"id"`
	SequenceID int64        `json:"sequence_id"`
	Action     string       `json:"action"`
	Narration  string       `json:"narration,omitempty"`
	Audit      []AuditEntry `json:"audit,omitempty"`
	At         time.Time    `json:"at"`
}

// Normalize builds runtime resources from definitions: the current value is
// the start value when present, else the max value.
func Normalize(defs ResourceDefinitions) RuntimeResources {
	out := make(RuntimeResources, len(defs))
	for key, def := range defs {
		current := def.MaxValue
		if def.StartValue != nil {
			current = *def.StartValue
		}
		out[key] = RuntimeResource{
			MaxValue:         def.MaxValue,
			CurrentValue:     floatPtr(current),
			GameEndsWhenZero: def.GameEndsWhenZero,
		}
	}
	return out
}

// Reconcile normalizes defs and then keeps every defined current value from
// existing. Resources new to defs are backfilled; tracked progress is never
// regressed. Keys only present in existing are carried over when defined.
func Reconcile(existing RuntimeResources, defs ResourceDefinitions) RuntimeResources {
	out := Normalize(defs)
	for key, res := range existing {
		if !res.Defined() {
			continue
		}
		merged, ok := out[key]
		if !ok {
			out[key] = res.Clone()
			continue
		}
		merged.CurrentValue = floatPtr(res.Current())
		out[key] = merged
	}
	return out
}

// Clone returns a deep copy of r.
func (r RuntimeResource) Clone() RuntimeResource {
	if r.CurrentValue != nil {
		r.CurrentValue = floatPtr(*r.CurrentValue)
	}
	return r
}

// Clone returns a deep copy of r.
func (r RuntimeResources) Clone() RuntimeResources {
	if r == nil {
		return nil
	}
	out := make(RuntimeResources, len(r))
	for k, v := range r {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of s.
func (s CharacterStats) Clone() CharacterStats {
	out := s
	out.Resources = s.Resources.Clone()
	out.Expertise = cloneCounts(s.Expertise)
	out.Disadvantages = cloneCounts(s.Disadvantages)
	if s.SpellsAndAbilities != nil {
		out.SpellsAndAbilities = make([]Ability, len(s.SpellsAndAbilities))
		for i, a := range s.SpellsAndAbilities {
			out.SpellsAndAbilities[i] = a.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of a.
func (a Ability) Clone() Ability {
	if a.ResourceCost != nil {
		cost := make(map[string]float64, len(a.ResourceCost))
		for k, v := range a.ResourceCost {
			cost[k] = v
		}
		a.ResourceCost = cost
	}
	return a
}

// Depleted returns the sorted keys of game-ending resources at or below zero.
func (s CharacterStats) Depleted() []string {
	var keys []string
	for _, key := range s.Resources.Keys() {
		res := s.Resources[key]
		if res.GameEndsWhenZero && res.Defined() && res.Current() <= 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func floatPtr(v float64) *float64 {
	return &v
}

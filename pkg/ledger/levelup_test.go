package ledger

import (
	"testing"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levelUpStats() CharacterStats {
	stats := NewCharacterStats(ResourceDefinitions{"hp": {MaxValue: 20}})
	stats.Level = 3
	stats.Expertise["swords"] = 2
	stats.Disadvantages["cowardice"] = 1
	stats.SpellsAndAbilities = []Ability{
		{Name: "Shield Bash"},
		{Name: "Parry"},
		{Name: "Parry"},
	}
	return stats
}

func TestApplyLevelUp_NilSpec(t *testing.T) {
	stats := levelUpStats()

	got, err := ApplyLevelUp(nil, stats)
	assert.ErrorIs(t, err, errors.ErrNoOpLevelUp)
	assert.Equal(t, stats, got)
}

func TestApplyLevelUp(t *testing.T) {
	tests := []struct {
		name              string
		spec              LevelUpSpec
		wantExpertise     map[string]int
		wantDisadvantages map[string]int
		wantAbilities     []string
	}{
		{
			name:              "existing expertise increments",
			spec:              LevelUpSpec{Trait: "swords", Ability: Ability{Name: "Riposte"}},
			wantExpertise:     map[string]int{"swords": 3},
			wantDisadvantages: map[string]int{"cowardice": 1},
			wantAbilities:     []string{"Shield Bash", "Parry", "Parry", "Riposte"},
		},
		{
			name:              "new expertise starts at one",
			spec:              LevelUpSpec{Trait: "archery", Ability: Ability{Name: "Volley"}},
			wantExpertise:     map[string]int{"swords": 2, "archery": 1},
			wantDisadvantages: map[string]int{"cowardice": 1},
			wantAbilities:     []string{"Shield Bash", "Parry", "Parry", "Volley"},
		},
		{
			name:              "disadvantage takes precedence",
			spec:              LevelUpSpec{Trait: "cowardice", Ability: Ability{Name: "Run"}},
			wantExpertise:     map[string]int{"swords": 2},
			wantDisadvantages: map[string]int{"cowardice": 2},
			wantAbilities:     []string{"Shield Bash", "Parry", "Parry", "Run"},
		},
		{
			name: "replaces only the first former ability",
			spec: LevelUpSpec{
				Trait:             "swords",
				FormerAbilityName: "Parry",
				Ability:           Ability{Name: "Perfect Parry"},
			},
			wantExpertise:     map[string]int{"swords": 3},
			wantDisadvantages: map[string]int{"cowardice": 1},
			wantAbilities:     []string{"Shield Bash", "Parry", "Perfect Parry"},
		},
		{
			name: "unknown former ability removes nothing",
			spec: LevelUpSpec{
				Trait:             "swords",
				FormerAbilityName: "Fireball",
				Ability:           Ability{Name: "Cleave"},
			},
			wantExpertise:     map[string]int{"swords": 3},
			wantDisadvantages: map[string]int{"cowardice": 1},
			wantAbilities:     []string{"Shield Bash", "Parry", "Parry", "Cleave"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := levelUpStats()
			spec := tt.spec

			got, err := ApplyLevelUp(&spec, stats)
			require.NoError(t, err)

			assert.Equal(t, 4, got.Level)
			assert.Equal(t, tt.wantExpertise, got.Expertise)
			assert.Equal(t, tt.wantDisadvantages, got.Disadvantages)

			names := make([]string, len(got.SpellsAndAbilities))
			for i, a := range got.SpellsAndAbilities {
				names[i] = a.Name
			}
			assert.Equal(t, tt.wantAbilities, names)

			assert.Equal(t, levelUpStats(), stats, "input untouched")
		})
	}
}

func TestApplyLevelUp_Resources(t *testing.T) {
	stats := levelUpStats()
	*stats.Resources["hp"].CurrentValue = 7

	spec := &LevelUpSpec{
		Trait:   "swords",
		Ability: Ability{Name: "Second Wind"},
		Resources: RuntimeResources{
			"hp":   {MaxValue: 30},
			"rage": {MaxValue: 3, CurrentValue: floatPtr(1)},
			"ki":   {MaxValue: 4},
		},
	}

	got, err := ApplyLevelUp(spec, stats)
	require.NoError(t, err)

	assert.Equal(t, 30.0, got.Resources["hp"].MaxValue)
	assert.Equal(t, 7.0, got.Resources["hp"].Current(), "undefined value keeps tracked progress")
	assert.Equal(t, 1.0, got.Resources["rage"].Current())
	assert.Equal(t, 4.0, got.Resources["ki"].Current(), "new resource starts full")
	assert.Equal(t, 7.0, stats.Resources["hp"].Current())
	assert.Equal(t, 20.0, stats.Resources["hp"].MaxValue)
}

func TestApplyLevelUp_ZeroLevelStartsAtOne(t *testing.T) {
	got, err := ApplyLevelUp(&LevelUpSpec{Ability: Ability{Name: "Dash"}}, CharacterStats{})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Level)
	assert.Len(t, got.SpellsAndAbilities, 1)
	assert.Empty(t, got.Expertise)
}

func TestApplyDelta(t *testing.T) {
	stats := NewCharacterStats(ResourceDefinitions{
		"hp":   {MaxValue: 20, GameEndsWhenZero: true},
		"mana": {MaxValue: 10},
	})

	got := ApplyDelta(stats, RuntimeResources{
		"hp":    {CurrentValue: floatPtr(12)},
		"mana":  {MaxValue: 15},
		"ghost": {MaxValue: 5},
		"gold":  {MaxValue: 100, CurrentValue: floatPtr(40)},
	})

	assert.Equal(t, 12.0, got.Resources["hp"].Current())
	assert.Equal(t, 20.0, got.Resources["hp"].MaxValue)
	assert.True(t, got.Resources["hp"].GameEndsWhenZero)

	assert.Equal(t, 10.0, got.Resources["mana"].Current())
	assert.Equal(t, 15.0, got.Resources["mana"].MaxValue)

	_, ok := got.Resources["ghost"]
	assert.False(t, ok, "undefined values are never introduced")
	assert.Equal(t, 40.0, got.Resources["gold"].Current())

	assert.Equal(t, 20.0, stats.Resources["hp"].Current(), "input untouched")
	for key, res := range got.Resources {
		assert.True(t, res.Defined(), key)
	}
}

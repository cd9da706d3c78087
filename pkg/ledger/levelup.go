package ledger

import (
	"github.com/lexlapax/saga/pkg/errors"
)

// ApplyLevelUp returns stats advanced by one level. A nil spec returns the
// unchanged stats together with ErrNoOpLevelUp.
//
// The trait advances the matching disadvantage when one exists, otherwise the
// expertise of that name. At most the first ability named
// spec.FormerAbilityName is removed before spec.Ability is appended.
func ApplyLevelUp(spec *LevelUpSpec, stats CharacterStats) (CharacterStats, error) {
	out := stats.Clone()
	if spec == nil {
		return out, errors.ErrNoOpLevelUp
	}

	if out.Level < 1 {
		out.Level = 1
	}
	out.Level++

	if out.Resources == nil {
		out.Resources = RuntimeResources{}
	}
	for key, res := range spec.Resources {
		if !res.Defined() {
			// an undefined value keeps whatever is tracked
			if existing, ok := out.Resources[key]; ok && existing.Defined() {
				res.CurrentValue = floatPtr(existing.Current())
			} else {
				res.CurrentValue = floatPtr(res.MaxValue)
			}
		}
		out.Resources[key] = res.Clone()
	}

	if spec.Trait != "" {
		if _, ok := out.Disadvantages[spec.Trait]; ok {
			out.Disadvantages[spec.Trait]++
		} else {
			if out.Expertise == nil {
				out.Expertise = map[string]int{}
			}
			out.Expertise[spec.Trait]++
		}
	}

	if spec.FormerAbilityName != "" {
		for i, ability := range out.SpellsAndAbilities {
			if ability.Name == spec.FormerAbilityName {
				out.SpellsAndAbilities = append(out.SpellsAndAbilities[:i], out.SpellsAndAbilities[i+1:]...)
				break
			}
		}
	}
	out.SpellsAndAbilities = append(out.SpellsAndAbilities, spec.Ability.Clone())

	return out, nil
}

// ApplyDelta merges narrator-reported resource changes into stats. A delta
// entry without a current value only updates the maximum and flags of a
// resource already tracked; it never introduces an undefined value.
func ApplyDelta(stats CharacterStats, delta RuntimeResources) CharacterStats {
	out := stats.Clone()
	if len(delta) == 0 {
		return out
	}
	if out.Resources == nil {
		out.Resources = RuntimeResources{}
	}

	for key, change := range delta {
		existing, ok := out.Resources[key]
		if !change.Defined() {
			if !ok || !existing.Defined() {
				continue
			}
			change.CurrentValue = floatPtr(existing.Current())
		}
		if change.MaxValue == 0 && ok {
			change.MaxValue = existing.MaxValue
		}
		if ok && existing.GameEndsWhenZero {
			change.GameEndsWhenZero = true
		}
		out.Resources[key] = change.Clone()
	}
	return out
}

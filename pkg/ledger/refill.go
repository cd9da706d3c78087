package ledger

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/log"
)

const (
	// ReasonRefill marks audit entries written by Refill.
	ReasonRefill = "refill"

	// ReasonInitialize marks audit entries written by InitializeMissing.
	ReasonInitialize = "initialize"
)

// RefillPolicy yields the target value a resource is restored to.
type RefillPolicy interface {
	RefillValue(ctx context.Context, key string, def ResourceDefinition) (float64, error)
}

// RefillPolicyFunc adapts a function to RefillPolicy.
type RefillPolicyFunc func(ctx context.Context, key string, def ResourceDefinition) (float64, error)

// RefillValue implements RefillPolicy.
func (f RefillPolicyFunc) RefillValue(ctx context.Context, key string, def ResourceDefinition) (float64, error) {
	return f(ctx, key, def)
}

// MaxValueRefill restores every resource to its maximum.
var MaxValueRefill RefillPolicy = RefillPolicyFunc(func(_ context.Context, _ string, def ResourceDefinition) (float64, error) {
	return def.MaxValue, nil
})

// StartValueRefill restores every resource to its start value, or its
// maximum when it has none.
var StartValueRefill RefillPolicy = RefillPolicyFunc(func(_ context.Context, _ string, def ResourceDefinition) (float64, error) {
	if def.StartValue != nil {
		return *def.StartValue, nil
	}
	return def.MaxValue, nil
})

// Refill raises every defined resource to the policy's target. A value is
// never lowered: the result is max(target, current), with an undefined
// current counting as 0. One audit entry is produced per changed value.
// Any policy error aborts the whole refill and current is left as it was.
func Refill(ctx context.Context, defs ResourceDefinitions, current RuntimeResources, policy RefillPolicy) ([]AuditEntry, RuntimeResources, error) {
	return refill(ctx, defs, current, policy, defs.Keys(), ReasonRefill)
}

// InitializeMissing is Refill restricted to the keys of defs that current
// does not hold yet, or holds without a current value.
func InitializeMissing(ctx context.Context, defs ResourceDefinitions, current RuntimeResources, policy RefillPolicy) ([]AuditEntry, RuntimeResources, error) {
	var keys []string
	for _, key := range defs.Keys() {
		if res, ok := current[key]; !ok || !res.Defined() {
			keys = append(keys, key)
		}
	}
	return refill(ctx, defs, current, policy, keys, ReasonInitialize)
}

func refill(ctx context.Context, defs ResourceDefinitions, current RuntimeResources, policy RefillPolicy, keys []string, reason string) ([]AuditEntry, RuntimeResources, error) {
	if policy == nil {
		policy = MaxValueRefill
	}

	out := current.Clone()
	if out == nil {
		out = RuntimeResources{}
	}

	now := time.Now().UTC()
	entries := []AuditEntry{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, current.Clone(), err
		}

		def := defs[key]
		target, err := policy.RefillValue(ctx, key, def)
		if err != nil {
			return nil, current.Clone(), errors.Wrap(err, "refill policy failed for resource %q", key)
		}
		if math.IsNaN(target) || math.IsInf(target, 0) {
			return nil, current.Clone(), errors.Wrap(errors.ErrInvalidInput, "refill policy returned %v for resource %q", target, key)
		}

		existing, tracked := out[key]
		previous := existing.Current()
		next := math.Max(target, previous)

		res := RuntimeResource{
			MaxValue:         def.MaxValue,
			CurrentValue:     floatPtr(next),
			GameEndsWhenZero: def.GameEndsWhenZero,
		}
		out[key] = res

		if tracked && existing.Defined() && next == previous {
			continue
		}
		entries = append(entries, AuditEntry{
			ID:          uuid.NewString(),
			ResourceKey: key,
			Previous:    previous,
			New:         next,
			Reason:      reason,
			At:          now,
		})
	}

	log.DebugContext(ctx, "Refilled resources", "reason", reason, "keys", len(keys), "changes", len(entries))
	return entries, out, nil
}

// AppendAudit returns a copy of history with entries attached to the most
// recent action. An empty history gets a synthetic action to hold them.
func AppendAudit(history []ActionRecord, entries []AuditEntry) []ActionRecord {
	out := make([]ActionRecord, len(history))
	for i, rec := range history {
		rec.Audit = append([]AuditEntry(nil), rec.Audit...)
		out[i] = rec
	}
	if len(entries) == 0 {
		return out
	}

	if len(out) == 0 {
		out = append(out, ActionRecord{
			ID:     uuid.NewString(),
			Action: "(system)",
			At:     time.Now().UTC(),
		})
	}
	last := &out[len(out)-1]
	last.Audit = append(last.Audit, entries...)
	return out
}

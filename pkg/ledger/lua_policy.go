package ledger

import (
	"context"
	"fmt"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/scripting"
)

// DefaultRefillFunction is the Lua function a LuaRefillPolicy calls unless
// told otherwise.
const DefaultRefillFunction = "refill_value"

// LuaRefillPolicy asks a Lua function for each refill target. The function
// receives the resource key and its definition as a table with max_value,
// start_value and game_ends_when_zero, and must return a number.
type LuaRefillPolicy struct {
	engine   scripting.Engine
	function string
}

// NewLuaRefillPolicy creates a policy calling function on engine.
func NewLuaRefillPolicy(engine scripting.Engine, function string) *LuaRefillPolicy {
	if function == "" {
		function = DefaultRefillFunction
	}
	return &LuaRefillPolicy{engine: engine, function: function}
}

// RefillValue implements RefillPolicy.
func (p *LuaRefillPolicy) RefillValue(ctx context.Context, key string, def ResourceDefinition) (float64, error) {
	if p.engine == nil {
		return 0, fmt.Errorf("%w: no scripting engine for refill policy", errors.ErrInvalidInput)
	}

	result, err := p.engine.ExecuteFunction(ctx, p.function, key, def)
	if err != nil {
		return 0, err
	}

	value, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s returned %T for %q, want number", errors.ErrLuaExecution, p.function, result, key)
	}
	return value, nil
}

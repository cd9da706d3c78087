package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/log"
	lua "github.com/yuin/gopher-lua"
)

// LuaEngine implements Engine on a single gopher-lua state. An LState is not
// safe for concurrent use, so every call holds the engine mutex.
type LuaEngine struct {
	mu     sync.Mutex
	state  *lua.LState
	config Config
	closed bool
}

// NewLuaEngine creates a Lua state configured by config.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	opts := lua.Options{
		SkipOpenLibs:        config.EnableSandboxing,
		IncludeGoStackTrace: false,
	}
	if config.CallStackSize > 0 {
		opts.CallStackSize = config.CallStackSize
	}
	L := lua.NewState(opts)

	if config.EnableSandboxing {
		if err := setupSandbox(L); err != nil {
			L.Close()
			return nil, err
		}
	}
	registerAPIFunctions(L)

	log.Debug("Lua engine initialized",
		"sandboxed", config.EnableSandboxing,
		"timeout_ms", config.ScriptTimeoutMs,
	)
	return &LuaEngine{state: L, config: config}, nil
}

// LoadScript runs content in the engine's global environment.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	fn, err := e.state.Load(strings.NewReader(string(content)), name)
	if err != nil {
		return fmt.Errorf("%w: failed to compile %s: %v", errors.ErrLuaExecution, name, err)
	}

	ctx, cancel := e.callContext(context.Background())
	defer cancel()
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	e.state.Push(fn)
	if err := e.state.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("%w: failed to run %s: %v", errors.ErrLuaExecution, name, err)
	}
	e.state.SetTop(0)

	log.Debug("Loaded Lua script", "name", name, "bytes", len(content))
	return nil
}

// LoadScriptFile loads the script at path under its base name.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read lua script %s", path)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir loads every .lua file directly inside dir, sorted by name.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "failed to read lua script directory %s", dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.LoadScriptFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// HasFunction implements Engine.
func (e *LuaEngine) HasFunction(funcName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	return e.state.GetGlobal(funcName).Type() == lua.LTFunction
}

// ExecuteFunction calls the global funcName with args converted to Lua values.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	fn := e.state.GetGlobal(funcName)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, funcName)
	}

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = convertGoToLua(e.state, arg)
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	e.state.SetContext(callCtx)
	defer e.state.RemoveContext()

	if err := e.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, luaArgs...); err != nil {
		e.state.SetTop(0)
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrLuaExecution, funcName, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrLuaExecution, funcName, err)
	}

	ret := e.state.Get(-1)
	e.state.Pop(1)
	return convertLuaToGo(ret), nil
}

// Close releases the Lua state. Later calls return ErrEngineClosed.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.state.Close()
	return nil
}

func (e *LuaEngine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.ScriptTimeoutMs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
}

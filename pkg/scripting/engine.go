package scripting

import (
	"context"
	"errors"
)

var (
	// ErrFunctionNotFound is returned when the called global is not a Lua function.
	ErrFunctionNotFound = errors.New("lua function not found")

	// ErrEngineClosed is returned by every call made after Close.
	ErrEngineClosed = errors.New("lua engine is closed")
)

// Engine is the interface for the Lua scripting engine.
type Engine interface {
	// LoadScript loads a Lua script with the given name and content.
	LoadScript(name string, content []byte) error

	// LoadScriptFile loads a Lua script from a file path.
	LoadScriptFile(path string) error

	// LoadScriptDir loads all .lua files from a directory in name order.
	LoadScriptDir(dir string) error

	// HasFunction reports whether a global Lua function with this name is loaded.
	HasFunction(funcName string) bool

	// ExecuteFunction calls a Lua function with the given arguments and
	// returns its first result converted to Go.
	ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error)

	// Close releases resources associated with the engine.
	Close() error
}

// Config contains configuration options for the scripting engine.
type Config struct {
	// EnableSandboxing restricts access to potentially dangerous Lua modules like os and io
	EnableSandboxing bool

	// ScriptTimeoutMs sets a maximum execution time for each call in milliseconds
	ScriptTimeoutMs int

	// CallStackSize bounds Lua recursion depth
	CallStackSize int
}

// DefaultConfig returns the default configuration for the scripting engine.
func DefaultConfig() Config {
	return Config{
		EnableSandboxing: true,
		ScriptTimeoutMs:  1000, // 1 second
		CallStackSize:    256,
	}
}

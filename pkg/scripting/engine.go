// Package scripting hosts user-supplied Lua policy scripts. The memory
// management unit calls named hook functions at fixed points; scripts that
// do not define a hook are simply skipped.
package scripting

import (
	"context"
	"errors"
)

// ErrFunctionNotFound is returned by ExecuteFunction when no global Lua
// function with the requested name is defined.
var ErrFunctionNotFound = errors.New("lua function not found")

// Engine is the interface for the Lua scripting engine.
type Engine interface {
	// LoadScript loads a Lua script with the given name and content.
	LoadScript(name string, content []byte) error

	// LoadScriptFile loads a Lua script from a file path.
	LoadScriptFile(path string) error

	// LoadScriptDir loads all .lua files in a directory, in name order.
	LoadScriptDir(dir string) error

	// HasFunction reports whether a global function named funcName exists.
	HasFunction(funcName string) bool

	// ExecuteFunction calls a previously loaded global function and converts
	// its first return value to Go.
	ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error)

	// Close releases resources associated with the engine.
	Close() error
}

// Config contains configuration options for the scripting engine.
type Config struct {
	// EnableSandboxing opens only the base, string, table and math libraries
	// and strips file and module loading from the base library.
	EnableSandboxing bool `yaml:"enable_sandboxing"`

	// ScriptTimeoutMs bounds each ExecuteFunction call. Zero disables the
	// bound; the caller's context still applies.
	ScriptTimeoutMs int `yaml:"script_timeout_ms"`

	// RegistryMaxSize caps the Lua registry (value stack) in slots.
	RegistryMaxSize int `yaml:"registry_max_size"`
}

// DefaultConfig returns the default configuration for the scripting engine.
func DefaultConfig() Config {
	return Config{
		EnableSandboxing: true,
		ScriptTimeoutMs:  1000,
		RegistryMaxSize:  1024 * 80,
	}
}

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

	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/log"
)

// LuaEngine implements Engine on a single gopher-lua state. An LState is
// not safe for concurrent use, so every call holds mu.
type LuaEngine struct {
	mu     sync.Mutex
	L      *lua.LState
	config Config
	loaded []string
}

var _ Engine = (*LuaEngine)(nil)

// NewLuaEngine creates a Lua state configured by config.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	opts := lua.Options{
		SkipOpenLibs: config.EnableSandboxing,
	}
	if config.RegistryMaxSize > 0 {
		opts.RegistrySize = 1024 * 20
		if opts.RegistrySize > config.RegistryMaxSize {
			opts.RegistrySize = config.RegistryMaxSize
		}
		opts.RegistryMaxSize = config.RegistryMaxSize
		opts.RegistryGrowStep = 32
	}
	L := lua.NewState(opts)

	if config.EnableSandboxing {
		if err := setupSandbox(L); err != nil {
			L.Close()
			return nil, errors.Wrap(errors.ErrLuaExecution, "sandbox setup: %v", err)
		}
	}
	registerAPIFunctions(L)

	log.Debug("Initialized Lua engine",
		"sandboxed", config.EnableSandboxing,
		"timeout_ms", config.ScriptTimeoutMs,
	)
	return &LuaEngine{L: L, config: config}, nil
}

// LoadScript implements Engine.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.L.DoString(string(content)); err != nil {
		log.Warn("Failed to load Lua script", "script", name, "error", err)
		return errors.Wrap(errors.ErrLuaExecution, "load %s: %v", name, err)
	}
	e.loaded = append(e.loaded, name)
	log.Debug("Loaded Lua script", "script", name, "bytes", len(content))
	return nil
}

// LoadScriptFile implements Engine.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir implements Engine.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read script directory %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
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

// Scripts returns the names of the scripts loaded so far.
func (e *LuaEngine) Scripts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loaded...)
}

// HasFunction implements Engine.
func (e *LuaEngine) HasFunction(funcName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.L.GetGlobal(funcName).(*lua.LFunction)
	return ok
}

// ExecuteFunction implements Engine. The global ctx table exposes the
// caller's deadline (Unix seconds) to the script when one is set.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn, ok := e.L.GetGlobal(funcName).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, funcName)
	}

	if e.config.ScriptTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	e.L.SetContext(ctx)
	defer e.L.RemoveContext()
	e.L.SetGlobal("ctx", contextTable(e.L, ctx))

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = convertGoToLua(e.L, arg)
	}

	start := time.Now()
	err := e.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "lua function %s", funcName)
		}
		return nil, errors.Wrap(errors.ErrLuaExecution, "%s: %v", funcName, err)
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)

	log.DebugContext(ctx, "Executed Lua function", "function", funcName, "duration", time.Since(start))
	return convertLuaToGo(ret), nil
}

func contextTable(L *lua.LState, ctx context.Context) *lua.LTable {
	t := L.NewTable()
	if deadline, ok := ctx.Deadline(); ok {
		t.RawSetString("deadline", lua.LNumber(deadline.Unix()))
	}
	return t
}

// Close implements Engine.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
	return nil
}

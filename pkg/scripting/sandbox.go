package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/omegamem/pkg/log"
)

// setupSandbox opens only the safe standard libraries on a state created
// with SkipOpenLibs and removes code-loading functions from the base library.
func setupSandbox(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "io", "os", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(safePrint))
	return nil
}

// safePrint redirects Lua's print to the structured logger.
func safePrint(L *lua.LState) int {
	top := L.GetTop()
	args := make([]interface{}, top)
	for i := 1; i <= top; i++ {
		args[i-1] = convertLuaToGo(L.Get(i))
	}
	log.Info("Lua print", "args", args)
	return 0
}

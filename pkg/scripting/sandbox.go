package scripting

import (
	"fmt"

	"github.com/lexlapax/saga/pkg/log"
	lua "github.com/yuin/gopher-lua"
)

// safeLibs are the only standard libraries a sandboxed state opens.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// unsafeGlobals are removed from the base library after it is opened.
var unsafeGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"io",
	"os",
	"package",
	"debug",
}

// setupSandbox opens the safe libraries on a state created with
// SkipOpenLibs and strips what the base library still exposes.
func setupSandbox(L *lua.LState) error {
	for _, lib := range safeLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("failed to open lua library %s: %w", lib.name, err)
		}
	}

	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(safePrint))
	return nil
}

// safePrint redirects Lua's print to our logger
func safePrint(L *lua.LState) int {
	top := L.GetTop()
	args := make([]interface{}, top)
	for i := 1; i <= top; i++ {
		args[i-1] = convertLuaToGo(L.Get(i))
	}

	log.Info("Lua print", "args", args)
	return 0
}

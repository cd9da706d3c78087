package scripting

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// convertGoToLua converts a Go value into a Lua value. Types without a
// direct mapping go through their JSON form.
func convertGoToLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case *float64:
		if v == nil {
			return lua.LNil
		}
		return lua.LNumber(*v)
	case []string:
		t := L.NewTable()
		for _, s := range v {
			t.Append(lua.LString(s))
		}
		return t
	case []float64:
		t := L.NewTable()
		for _, f := range v {
			t.Append(lua.LNumber(f))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for _, item := range v {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case map[string]interface{}:
		t := L.NewTable()
		for key, item := range v {
			t.RawSetString(key, convertGoToLua(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for key, item := range v {
			t.RawSetString(key, lua.LString(item))
		}
		return t
	case map[string]float64:
		t := L.NewTable()
		for key, item := range v {
			t.RawSetString(key, lua.LNumber(item))
		}
		return t
	}

	data, err := json.Marshal(value)
	if err != nil {
		return lua.LString(fmt.Sprintf("%v", value))
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LString(string(data))
	}
	return convertGoToLua(L, generic)
}

// convertLuaToGo converts a Lua value into plain Go values. Numbers become
// float64; tables with keys 1..n become slices and all others maps.
func convertLuaToGo(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case *lua.LTable:
		return convertTable(v)
	default:
		return v.String()
	}
}

func convertTable(t *lua.LTable) interface{} {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]interface{}, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, convertLuaToGo(t.RawGetInt(i)))
		}
		return out
	}

	out := make(map[string]interface{}, count)
	t.ForEach(func(key, val lua.LValue) {
		out[key.String()] = convertLuaToGo(val)
	})
	return out
}

package scripting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/omegamem/pkg/log"
)

// APITableName is the global table through which scripts reach the host.
const APITableName = "omegamem"

// registerAPIFunctions registers Go functions that are available to Lua scripts.
func registerAPIFunctions(L *lua.LState) {
	api := L.NewTable()
	L.SetField(api, "log", L.NewFunction(apiLog))
	L.SetField(api, "now", L.NewFunction(apiNow))
	L.SetField(api, "format_time", L.NewFunction(apiFormatTime))
	L.SetField(api, "uuid", L.NewFunction(apiUUID))
	L.SetField(api, "json_encode", L.NewFunction(apiJSONEncode))
	L.SetField(api, "json_decode", L.NewFunction(apiJSONDecode))
	L.SetGlobal(APITableName, api)
}

// apiLog logs a message from Lua: omegamem.log(level, message).
func apiLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		log.Debug("Lua script message", "message", message)
	case "warn", "warning":
		log.Warn("Lua script message", "message", message)
	case "error":
		log.Error("Lua script message", "message", message)
	default:
		log.Info("Lua script message", "message", message)
	}
	return 0
}

// apiNow returns the current time as a Unix timestamp.
func apiNow(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// apiFormatTime formats a Unix timestamp in UTC.
func apiFormatTime(L *lua.LState) int {
	timestamp := L.CheckNumber(1)
	format := L.OptString(2, time.RFC3339)
	L.Push(lua.LString(time.Unix(int64(timestamp), 0).UTC().Format(format)))
	return 1
}

func apiUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

// apiJSONEncode returns (string) or (nil, error message).
func apiJSONEncode(L *lua.LState) int {
	data, err := json.Marshal(convertLuaToGo(L.CheckAny(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	return 1
}

// apiJSONDecode returns (value) or (nil, error message).
func apiJSONDecode(L *lua.LState) int {
	var v interface{}
	if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(convertGoToLua(L, v))
	return 1
}

// convertGoToLua maps Go values onto Lua values. Unknown types are
// rendered with fmt.
func convertGoToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case time.Time:
		return lua.LNumber(val.Unix())
	case time.Duration:
		return lua.LNumber(val.Seconds())
	case []byte:
		return lua.LString(val)
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []int:
		t := L.CreateTable(len(val), 0)
		for _, n := range val {
			t.Append(lua.LNumber(n))
		}
		return t
	case []float32:
		t := L.CreateTable(len(val), 0)
		for _, f := range val {
			t.Append(lua.LNumber(f))
		}
		return t
	case []interface{}:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case []map[string]interface{}:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case map[string]interface{}:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, convertGoToLua(L, item))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for k, s := range val {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// convertLuaToGo maps Lua values onto Go. Numbers become float64. A table
// whose keys are exactly 1..n becomes []interface{}; any other table
// becomes map[string]interface{} with keys rendered as strings. An empty
// table becomes an empty map.
func convertLuaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		n := val.Len()
		count := 0
		val.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			out := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, convertLuaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]interface{}, count)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = convertLuaToGo(item)
		})
		return out
	case *lua.LFunction:
		return "function"
	default:
		return v.String()
	}
}

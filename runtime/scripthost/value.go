// Package scripthost wraps a gopher-lua VM with the aip.* API surface and
// the tagged value bridge described in spec §4.4. No Lua (or other
// embeddable scripting language) binding appears anywhere in the
// retrieval pack; gopher-lua is adopted as a named, ungrounded
// dependency because its LState is explicitly single-threaded and
// non-shareable across goroutines, which matches the "fresh VM per
// stage invocation" requirement directly (see DESIGN.md).
package scripthost

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Kind tags a Value's underlying shape. The host/script value bridge
// distinguishes Nil (Lua's native nil, erased by iteration/JSON) from
// Null (a host-level sentinel that survives iteration of sequences and
// round-trips through JSON as a literal null) — spec §4.4.
type Kind int

const (
	KindNil Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindStr
	KindBytes
	KindArray
	KindMap
)

// Value is the tagged host-side representation of anything crossing the
// Lua/Go boundary.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	Array []Value
	Map   map[string]Value
}

// Nil is the erasing absence of a value (maps to Lua nil).
var Nil = Value{Kind: KindNil}

// Null is the non-erasing sentinel (maps to a distinguished userdata in
// Lua so it is distinguishable from nil in table iteration).
var Null = Value{Kind: KindNull}

func Bool(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value   { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value  { return Value{Kind: KindStr, Str: s} }
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }
func Array(vs []Value) Value { return Value{Kind: KindArray, Array: vs} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// nullSentinelKey is the userdata metatable name tagging the Null
// sentinel inside Lua so ToLua/FromLua can round-trip it.
const nullSentinelKey = "aip.null"

// ToLua converts a Value into the equivalent lua.LValue.
func ToLua(L *lua.LState, v Value) lua.LValue {
	switch v.Kind {
	case KindNil:
		return lua.LNil
	case KindNull:
		ud := L.NewUserData()
		ud.Value = nullMarker{}
		mt := L.NewTypeMetatable(nullSentinelKey)
		L.SetMetatable(ud, mt)
		return ud
	case KindBool:
		return lua.LBool(v.Bool)
	case KindInt:
		return lua.LNumber(v.Int)
	case KindFloat:
		return lua.LNumber(v.Float)
	case KindStr:
		return lua.LString(v.Str)
	case KindBytes:
		return lua.LString(string(v.Bytes))
	case KindArray:
		tbl := L.NewTable()
		for i, e := range v.Array {
			tbl.RawSetInt(i+1, ToLua(L, e))
		}
		return tbl
	case KindMap:
		tbl := L.NewTable()
		for k, e := range v.Map {
			tbl.RawSetString(k, ToLua(L, e))
		}
		return tbl
	default:
		return lua.LNil
	}
}

type nullMarker struct{}

// IsNullValue reports whether lv is the Null sentinel userdata.
func IsNullValue(lv lua.LValue) bool {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return false
	}
	_, ok = ud.Value.(nullMarker)
	return ok
}

// FromLua converts a lua.LValue back into a Value. Lua tables are
// ambiguous between array and map shape; a table with only consecutive
// positive integer keys starting at 1 (a Lua "sequence") becomes an
// Array, otherwise a Map.
func FromLua(lv lua.LValue) Value {
	switch t := lv.(type) {
	case *lua.LNilType:
		return Nil
	case lua.LBool:
		return Bool(bool(t))
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return Int(int64(f))
		}
		return Float(f)
	case lua.LString:
		return Str(string(t))
	case *lua.LUserData:
		if IsNullValue(lv) {
			return Null
		}
		return Nil
	case *lua.LTable:
		return fromLuaTable(t)
	default:
		return Nil
	}
}

func fromLuaTable(t *lua.LTable) Value {
	n := t.Len()
	isSeq := n > 0
	if isSeq {
		count := 0
		t.ForEach(func(_, _ lua.LValue) { count++ })
		isSeq = count == n
	}
	if isSeq {
		arr := make([]Value, 0, n)
		for i := 1; i <= n; i++ {
			arr = append(arr, FromLua(t.RawGetInt(i)))
		}
		return Array(arr)
	}
	m := map[string]Value{}
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = FromLua(v)
	})
	return Map(m)
}

// ToAny converts a Value into its Go any-equivalent for json.Marshal:
// Nil and Null both become nil (JSON can't distinguish Lua's two
// absences), matching the "Null survives table iteration, elided by
// erasure semantics at the Lua/Go boundary but present at the JSON
// boundary as literal null" contract — callers that need literal-null
// round-tripping should marshal via MarshalJSON, which preserves Null
// but not Nil (mirroring the property that Nil erases from sequences).
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNil:
		return nil
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindStr:
		return v.Str
	case KindBytes:
		return v.Bytes
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler. Null marshals as a literal JSON
// null; Nil, when present inside an Array/Map, also marshals as null (Go
// encoding/json cannot represent Lua's finer erasure distinction once a
// value occupies a slot) — the distinction is only observable to script
// code walking a live table, which is where spec §4.4 requires it.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNil, KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindStr:
		return json.Marshal(v.Str)
	case KindBytes:
		return json.Marshal(string(v.Bytes))
	case KindArray:
		return json.Marshal(v.Array)
	case KindMap:
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("scripthost: unknown value kind %d", v.Kind)
	}
}

// FromAny converts a Go any (as produced by encoding/json.Unmarshal into
// an any, or built programmatically) into a Value. A literal JSON null
// becomes Null, not Nil, since it was never ambiguous: it was decoded
// from text, not erased from a table slot.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case string:
		return Str(t)
	case []byte:
		return Bytes(t)
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = FromAny(e)
		}
		return Array(arr)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Map(m)
	default:
		return Nil
	}
}

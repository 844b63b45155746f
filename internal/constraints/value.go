// Package constraints models the constraint sets produced by the NLU
// extractor. Values are a closed tagged union (scalar | list | struct) so
// merging is total no matter what shape the extractor returns.
package constraints

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindStruct
)

// Value is one constraint value. The zero Value is the scalar nil.
type Value struct {
	kind   Kind
	scalar any
	list   []Value
	fields map[string]Value
}

// Map is a constraint set keyed by constraint name.
type Map map[string]Value

func String(s string) Value  { return Value{scalar: s} }
func Number(f float64) Value { return Value{scalar: f} }
func Bool(b bool) Value      { return Value{scalar: b} }

func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

func Struct(fields map[string]Value) Value {
	return Value{kind: KindStruct, fields: fields}
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the scalar string value, or "" and false for anything else.
func (v Value) Str() (string, bool) {
	if v.kind != KindScalar {
		return "", false
	}
	s, ok := v.scalar.(string)
	return s, ok
}

func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Field returns a struct field by name.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindStruct {
		return Value{}, false
	}
	f, ok := v.fields[name]
	return f, ok
}

// FromAny converts an arbitrary JSON-decoded value into the union. Any
// shape maps to exactly one variant, so the conversion never fails.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return List(items...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = FromAny(item)
		}
		return Struct(fields)
	default:
		return Value{scalar: t}
	}
}

func (v Value) toAny() any {
	switch v.kind {
	case KindList:
		out := make([]any, 0, len(v.list))
		for _, item := range v.list {
			out = append(out, item.toAny())
		}
		return out
	case KindStruct:
		out := make(map[string]any, len(v.fields))
		for k, item := range v.fields {
			out[k] = item.toAny()
		}
		return out
	default:
		return v.scalar
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toAny())
}

// canonical produces a stable identity key used for deep-equality dedup of
// list items, including struct-shaped ones.
func (v Value) canonical() string {
	switch v.kind {
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			parts = append(parts, item.canonical())
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindStruct:
		keys := make([]string, 0, len(v.fields))
		for k := range v.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q:%s", k, v.fields[k].canonical()))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%T:%v", v.scalar, v.scalar)
	}
}

// Equal reports deep equality between two values.
func (v Value) Equal(other Value) bool {
	return v.canonical() == other.canonical()
}

// DecodeMap converts a JSON object into a constraint Map. Non-object
// payloads yield an empty map rather than an error: the extractor is not
// fully trusted and must never break the merge step.
func DecodeMap(data []byte) Map {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Map{}
	}
	m := make(Map, len(raw))
	for k, v := range raw {
		m[k] = FromAny(v)
	}
	return m
}

// Clone returns a shallow copy of the map (values are immutable by
// convention, so sharing them is fine).
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

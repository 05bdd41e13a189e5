package expression

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is a value produced or consumed during evaluation. The language has
// six types; numbers are always float64.
type Value interface {
	Type() ValueType
	GoValue() interface{}
	String() string
	Equals(Value) bool
}

// ValueType names one of the language's types.
type ValueType string

const (
	TypeNil    ValueType = "nil"
	TypeBool   ValueType = "bool"
	TypeNumber ValueType = "number"
	TypeString ValueType = "string"
	TypeList   ValueType = "list"
	TypeMap    ValueType = "map"
)

// NilValue is the null of the expression language.
type NilValue struct{}

func (v NilValue) Type() ValueType         { return TypeNil }
func (v NilValue) GoValue() interface{}    { return nil }
func (v NilValue) String() string          { return "null" }
func (v NilValue) Equals(other Value) bool { return other.Type() == TypeNil }

type BoolValue struct {
	Val bool
}

func (v BoolValue) Type() ValueType      { return TypeBool }
func (v BoolValue) GoValue() interface{} { return v.Val }
func (v BoolValue) String() string       { return strconv.FormatBool(v.Val) }
func (v BoolValue) Equals(other Value) bool {
	b, ok := other.(BoolValue)
	return ok && v.Val == b.Val
}

type NumberValue struct {
	Val float64
}

func (v NumberValue) Type() ValueType      { return TypeNumber }
func (v NumberValue) GoValue() interface{} { return v.Val }
func (v NumberValue) String() string       { return strconv.FormatFloat(v.Val, 'g', -1, 64) }

// Equals treats a string as equal to a number when it parses as the same
// number, the loose equality workflow authors expect from ==.
func (v NumberValue) Equals(other Value) bool {
	switch o := other.(type) {
	case NumberValue:
		return v.Val == o.Val
	case StringValue:
		return numberStringEqual(v.Val, o.Val)
	}
	return false
}

type StringValue struct {
	Val string
}

func (v StringValue) Type() ValueType      { return TypeString }
func (v StringValue) GoValue() interface{} { return v.Val }
func (v StringValue) String() string       { return v.Val }

func (v StringValue) Equals(other Value) bool {
	switch o := other.(type) {
	case StringValue:
		return v.Val == o.Val
	case NumberValue:
		return numberStringEqual(o.Val, v.Val)
	}
	return false
}

// numberStringEqual reports whether s parses as exactly n.
func numberStringEqual(n float64, s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && n == f
}

type ListValue struct {
	Items []Value
}

func (v ListValue) Type() ValueType { return TypeList }

func (v ListValue) GoValue() interface{} {
	out := make([]interface{}, len(v.Items))
	for i, item := range v.Items {
		out[i] = item.GoValue()
	}
	return out
}

func (v ListValue) String() string {
	parts := make([]string, len(v.Items))
	for i, item := range v.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v ListValue) Equals(other Value) bool {
	o, ok := other.(ListValue)
	if !ok || len(v.Items) != len(o.Items) {
		return false
	}
	for i, item := range v.Items {
		if !item.Equals(o.Items[i]) {
			return false
		}
	}
	return true
}

type MapValue struct {
	Entries map[string]Value
}

func (v MapValue) Type() ValueType { return TypeMap }

func (v MapValue) GoValue() interface{} {
	out := make(map[string]interface{}, len(v.Entries))
	for k, entry := range v.Entries {
		out[k] = entry.GoValue()
	}
	return out
}

// String renders entries in key order so the output is stable.
func (v MapValue) String() string {
	keys := make([]string, 0, len(v.Entries))
	for k := range v.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + v.Entries[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (v MapValue) Equals(other Value) bool {
	o, ok := other.(MapValue)
	if !ok || len(v.Entries) != len(o.Entries) {
		return false
	}
	for k, entry := range v.Entries {
		theirs, ok := o.Entries[k]
		if !ok || !entry.Equals(theirs) {
			return false
		}
	}
	return true
}

// GoToValue wraps a plain Go value in the expression value system. Integers
// widen to float64, the language's only numeric type. Unrecognized types
// render through fmt as strings rather than failing, which matches how they
// would appear interpolated into a prompt.
func GoToValue(v interface{}) Value {
	switch val := v.(type) {
	case nil:
		return NilValue{}
	case bool:
		return BoolValue{Val: val}
	case float64:
		return NumberValue{Val: val}
	case float32:
		return NumberValue{Val: float64(val)}
	case int:
		return NumberValue{Val: float64(val)}
	case int32:
		return NumberValue{Val: float64(val)}
	case int64:
		return NumberValue{Val: float64(val)}
	case uint64:
		return NumberValue{Val: float64(val)}
	case string:
		return StringValue{Val: val}
	case []interface{}:
		items := make([]Value, len(val))
		for i, item := range val {
			items[i] = GoToValue(item)
		}
		return ListValue{Items: items}
	case []string:
		items := make([]Value, len(val))
		for i, s := range val {
			items[i] = StringValue{Val: s}
		}
		return ListValue{Items: items}
	case map[string]interface{}:
		entries := make(map[string]Value, len(val))
		for k, item := range val {
			entries[k] = GoToValue(item)
		}
		return MapValue{Entries: entries}
	case map[interface{}]interface{}:
		entries := make(map[string]Value, len(val))
		for k, item := range val {
			entries[fmt.Sprintf("%v", k)] = GoToValue(item)
		}
		return MapValue{Entries: entries}
	}
	return StringValue{Val: fmt.Sprintf("%v", v)}
}

// ToBool applies the language's truthiness rules: null and false are false,
// zero and the empty string are false, containers are true when non-empty.
func ToBool(v Value) bool {
	switch val := v.(type) {
	case NilValue:
		return false
	case BoolValue:
		return val.Val
	case NumberValue:
		return val.Val != 0
	case StringValue:
		return val.Val != ""
	case ListValue:
		return len(val.Items) > 0
	case MapValue:
		return len(val.Entries) > 0
	}
	return true
}

// ToNumber coerces a value to a number. Strings that do not parse and all
// container types coerce to zero.
func ToNumber(v Value) float64 {
	switch val := v.(type) {
	case NumberValue:
		return val.Val
	case StringValue:
		f, _ := strconv.ParseFloat(val.Val, 64)
		return f
	case BoolValue:
		if val.Val {
			return 1
		}
		return 0
	}
	return 0
}

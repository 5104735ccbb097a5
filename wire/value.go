package wire

import (
	"fmt"
	"strconv"
)

// Kind is the tag of the typed value.
type Kind uint32

// Supported value kinds. Numbers are part of the wire format.
const (
	KindInt32 Kind = iota
	KindInt64
	KindBool
	KindFloat64
	KindString
	KindVoid

	kindInvalid Kind = 0xFFFFFFFF
)

var kindNames = map[Kind]string{
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindBool:    "bool",
	KindFloat64: "float64",
	KindString:  "string",
	KindVoid:    "void",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.FormatUint(uint64(k), 10) + ")"
}

// Value is the discriminated union of the values which might be sent in a message.
// Values are comparable with ==.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

var invalidValue = Value{kind: kindInvalid}

// Int32 creates int32 value.
func Int32(v int32) Value {
	return Value{kind: KindInt32, i: int64(v)}
}

// Int64 creates int64 value.
func Int64(v int64) Value {
	return Value{kind: KindInt64, i: v}
}

// Bool creates bool value.
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Float64 creates float64 value.
func Float64(v float64) Value {
	return Value{kind: KindFloat64, f: v}
}

// String creates string value.
func String(v string) Value {
	return Value{kind: KindString, s: v}
}

// Void creates void value.
func Void() Value {
	return Value{kind: KindVoid}
}

// Kind returns kind of the value.
func (v Value) Kind() Kind {
	return v.kind
}

// IsValid reports whether value was decoded successfully.
func (v Value) IsValid() bool {
	_, ok := kindNames[v.kind]
	return ok
}

// IsVoid reports whether value is void.
func (v Value) IsVoid() bool {
	return v.kind == KindVoid
}

// Int32 returns int32 held by value.
func (v Value) Int32() (int32, bool) {
	return int32(v.i), v.kind == KindInt32
}

// Int64 returns int64 held by value. Int32 values are widened.
func (v Value) Int64() (int64, bool) {
	return v.i, v.kind == KindInt64 || v.kind == KindInt32
}

// Bool returns bool held by value.
func (v Value) Bool() (bool, bool) {
	return v.i != 0, v.kind == KindBool
}

// Float64 returns float64 held by value.
func (v Value) Float64() (float64, bool) {
	return v.f, v.kind == KindFloat64
}

// Str returns string held by value.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// String returns human-readable form of the value.
func (v Value) String() string {
	switch v.kind {
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindVoid:
		return "void"
	default:
		return fmt.Sprintf("invalid(%d)", uint32(v.kind))
	}
}

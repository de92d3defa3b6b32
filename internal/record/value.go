package record

import (
	"encoding/json"
	"math"
)

// Kind tags the scalar held by a Value
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
	KindBool
)

// Value is a number, string or boolean. The zero Value is invalid and is
// never stored in a Record.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

func Int(v int64) Value     { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }

func (v Value) Kind() Kind { return v.kind }

// Valid reports whether v holds a serializable scalar. NaN and infinities
// are not representable in JSON.
func (v Value) Valid() bool {
	switch v.kind {
	case KindInt, KindString, KindBool:
		return true
	case KindFloat:
		return !math.IsNaN(v.f) && !math.IsInf(v.f, 0)
	}
	return false
}

// Interface returns the underlying Go value
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.b
	}
	return nil
}

// Float64 returns the numeric value of an Int or Float
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v Value) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(v.Interface())
}

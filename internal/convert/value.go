// Package convert maps the open wbtn value domain (null, bool, int, float,
// string, bytes, JSON payloads, filesystem paths) onto SQLite's primitive
// types and back. Every stored value is paired with a conversion tag that
// records how to reconstruct the original; SQLite alone cannot tell a
// boolean from an integer.
package convert

import (
	"bytes"
	"fmt"

	"wbtn/internal/jsondata"
)

// Kind enumerates the value domain. The set is closed; consumers switch
// over it exhaustively.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindJSON
	KindPath
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindJSON:
		return "json"
	case KindPath:
		return "path"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is one member of the open value domain. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string // string and path kinds
	raw  []byte
	js   *jsondata.Data
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps a byte slice.
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }

// JSON wraps a deferred JSON payload. A nil payload carries no data and
// collapses to null.
func JSON(d *jsondata.Data) Value {
	if d == nil {
		return Null()
	}
	return Value{kind: KindJSON, js: d}
}

// Path wraps an external filesystem path. The path is virtualized through
// the container's base directory when stored.
func Path(p string) Value { return Value{kind: KindPath, s: p} }

// Kind reports which member of the domain this value is.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; zero for other kinds.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload; zero for other kinds.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload; zero for other kinds.
func (v Value) Float() float64 { return v.f }

// String returns the string payload; empty for other kinds.
func (v Value) String() string {
	if v.kind == KindString || v.kind == KindPath {
		return v.s
	}
	return ""
}

// Bytes returns the byte payload; nil for other kinds.
func (v Value) Bytes() []byte { return v.raw }

// JSON returns the JSON payload; nil for other kinds.
func (v Value) JSON() *jsondata.Data { return v.js }

// Equal compares two values. JSON payloads compare structurally, which may
// require parsing.
func (v Value) Equal(other Value) (bool, error) {
	if v.kind != other.kind {
		return false, nil
	}
	switch v.kind {
	case KindNull:
		return true, nil
	case KindBool:
		return v.b == other.b, nil
	case KindInt:
		return v.i == other.i, nil
	case KindFloat:
		return v.f == other.f, nil
	case KindString, KindPath:
		return v.s == other.s, nil
	case KindBytes:
		return bytes.Equal(v.raw, other.raw), nil
	case KindJSON:
		if v.js == nil || other.js == nil {
			return v.js == other.js, nil
		}
		return v.js.Equal(other.js)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedType, v.kind)
	}
}

// FromAny converts an arbitrary Go value into a Value. Maps and slices
// become deferred JSON payloads. Shapes outside the open domain fail.
func FromAny(value any) (Value, error) {
	switch v := value.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Bytes(v), nil
	case *jsondata.Data:
		return JSON(v), nil
	case map[string]any:
		return JSON(jsondata.FromValue(v, jsondata.FlavorJSON)), nil
	case []any:
		return JSON(jsondata.FromValue(v, jsondata.FlavorJSON)), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, value)
	}
}

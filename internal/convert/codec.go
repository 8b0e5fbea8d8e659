package convert

import (
	"errors"
	"fmt"

	"wbtn/internal/jsondata"
	"wbtn/internal/pathmap"
)

// Tag is the conversion tag stored beside a value. Tags are drawn from a
// fixed closed set; they are never interpolated from untrusted input.
type Tag string

const (
	TagNone   Tag = ""
	TagNull   Tag = "null"
	TagBool   Tag = "bool"
	TagInt    Tag = "int"
	TagFloat  Tag = "float"
	TagString Tag = "str"
	TagBytes  Tag = "bytes"
	TagJSON   Tag = "json"
	TagJSONB  Tag = "jsonb"
	TagPath   Tag = "path"
)

var (
	// ErrUnknownConversion is returned for a tag outside the closed set.
	ErrUnknownConversion = errors.New("unknown conversion tag")
	// ErrTypeMismatch is returned when a stored value's native type does
	// not fit its conversion tag.
	ErrTypeMismatch = errors.New("value does not match conversion tag")
	// ErrUnsupportedType is returned for value shapes outside the open
	// domain.
	ErrUnsupportedType = errors.New("unsupported value type")
)

// SelectValueExpr reads the value column in loadable form: jsonb rows hold
// SQLite's binary JSON encoding and must pass through json() before leaving
// the store.
const SelectValueExpr = "CASE conversion WHEN 'jsonb' THEN json(value) WHEN 'json' THEN json(value) ELSE value END"

// Codec converts between the open value domain and storable primitives.
type Codec struct {
	// Paths virtualizes path values. Required for path kinds and tags.
	Paths *pathmap.Manager
	// PrimitiveTags gives str/int/float/bytes their own tags instead of
	// storing them untagged. Bool and null are always tagged.
	PrimitiveTags bool
	// Strict makes Load verify the stored value's native type against the
	// tag.
	Strict bool
}

// Dump produces the conversion tag, the SQL placeholder expression and the
// driver argument for a value. An explicit tag selects CAST templates for
// primitives, guaranteeing the stored type matches the tag; with no
// explicit tag the tag is inferred from the value's shape.
func (c *Codec) Dump(v Value, explicit Tag) (Tag, string, any, error) {
	tag := explicit
	cast := true
	if tag == TagNone {
		tag = c.infer(v)
		cast = false
	}
	expr, err := placeholder(tag, cast)
	if err != nil {
		return TagNone, "", nil, err
	}
	arg, err := c.dumpArg(v)
	if err != nil {
		return TagNone, "", nil, err
	}
	return tag, expr, arg, nil
}

// Load reconstructs a value from its stored primitive and tag. stored is a
// database/sql scan result: nil, int64, float64, string or []byte.
func (c *Codec) Load(tag Tag, stored any) (Value, error) {
	if tag == TagNull || stored == nil {
		return Null(), nil
	}
	switch tag {
	case TagNone:
		return fromDriver(stored)
	case TagJSON, TagJSONB:
		raw, ok := storedText(stored)
		if !ok {
			return Value{}, fmt.Errorf("%w: %T stored under %q", ErrTypeMismatch, stored, tag)
		}
		return JSON(jsondata.FromRaw(raw, jsondata.Flavor(tag))), nil
	case TagBool:
		switch b := stored.(type) {
		case int64:
			return Bool(b != 0), nil
		case bool:
			return Bool(b), nil
		}
		return Value{}, fmt.Errorf("%w: %T stored under %q", ErrTypeMismatch, stored, tag)
	case TagPath:
		raw, ok := storedText(stored)
		if !ok {
			return Value{}, fmt.Errorf("%w: %T stored under %q", ErrTypeMismatch, stored, tag)
		}
		external, err := c.Paths.Load(raw)
		if err != nil {
			return Value{}, err
		}
		return Path(external), nil
	case TagString, TagInt, TagFloat, TagBytes:
		if c.Strict {
			if err := checkNative(tag, stored); err != nil {
				return Value{}, err
			}
		}
		return fromDriver(stored)
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownConversion, tag)
	}
}

// infer picks the tag for a value with no explicit tag. Null, bool, JSON
// and path values are always tagged; the remaining primitives are tagged
// only when PrimitiveTags is on.
func (c *Codec) infer(v Value) Tag {
	return c.inferTag(v, c.PrimitiveTags)
}

// PrimitiveTag infers a value's tag with primitive tagging forced on, for
// payloads spilled to external files where an untagged byte stream could
// not be decoded.
func (c *Codec) PrimitiveTag(v Value) Tag {
	return c.inferTag(v, true)
}

func (c *Codec) inferTag(v Value, primitives bool) Tag {
	switch v.kind {
	case KindNull:
		return TagNull
	case KindBool:
		return TagBool
	case KindJSON:
		if v.js != nil && v.js.Flavor() == jsondata.FlavorJSONB {
			return TagJSONB
		}
		return TagJSON
	case KindPath:
		return TagPath
	}
	if !primitives {
		return TagNone
	}
	switch v.kind {
	case KindString:
		return TagString
	case KindInt:
		return TagInt
	case KindFloat:
		return TagFloat
	case KindBytes:
		return TagBytes
	default:
		return TagNone
	}
}

// dumpArg converts a value into the driver argument bound to the
// placeholder.
func (c *Codec) dumpArg(v Value) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i, nil
	case KindFloat:
		return v.f, nil
	case KindString:
		return v.s, nil
	case KindBytes:
		return v.raw, nil
	case KindJSON:
		raw, err := v.js.Dump(false)
		if err != nil {
			return nil, err
		}
		return raw, nil
	case KindPath:
		stored, err := c.Paths.Store(v.s)
		if err != nil {
			return nil, err
		}
		return stored, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, v.kind)
	}
}

// placeholder returns the SQL expression a bound value passes through.
// JSON values go through the store's decode functions; with cast enabled
// primitives are CAST so an explicitly tagged value cannot land with a
// different native type.
func placeholder(tag Tag, cast bool) (string, error) {
	switch tag {
	case TagNone, TagNull, TagPath:
		return "?", nil
	case TagJSON:
		return "json(?)", nil
	case TagJSONB:
		return "jsonb(?)", nil
	case TagString, TagBytes, TagInt, TagFloat, TagBool:
		if !cast {
			return "?", nil
		}
		switch tag {
		case TagString:
			return "CAST(? AS TEXT)", nil
		case TagBytes:
			return "CAST(? AS BLOB)", nil
		case TagFloat:
			return "CAST(? AS REAL)", nil
		default:
			return "CAST(? AS INTEGER)", nil
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownConversion, tag)
	}
}

func checkNative(tag Tag, stored any) error {
	ok := false
	switch tag {
	case TagString:
		_, ok = stored.(string)
	case TagInt:
		_, ok = stored.(int64)
	case TagFloat:
		_, ok = stored.(float64)
	case TagBytes:
		_, ok = stored.([]byte)
	}
	if !ok {
		return fmt.Errorf("%w: %T stored under %q", ErrTypeMismatch, stored, tag)
	}
	return nil
}

func fromDriver(stored any) (Value, error) {
	switch v := stored.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case int64:
		return Int(v), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Bytes(append([]byte(nil), v...)), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, stored)
	}
}

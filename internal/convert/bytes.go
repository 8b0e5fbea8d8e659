package convert

import (
	"fmt"
	"strconv"

	"wbtn/internal/jsondata"
)

// DumpBytes flattens a value into the byte form written to external payload
// files. Null becomes empty, booleans become "1"/"0", numbers their decimal
// text, paths their stored base-relative form.
func (c *Codec) DumpBytes(v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte{}, nil
	case KindBool:
		if v.b {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		return strconv.AppendFloat(nil, v.f, 'g', -1, 64), nil
	case KindString:
		return []byte(v.s), nil
	case KindBytes:
		return v.raw, nil
	case KindJSON:
		raw, err := v.js.Dump(false)
		if err != nil {
			return nil, err
		}
		return []byte(raw), nil
	case KindPath:
		stored, err := c.Paths.Store(v.s)
		if err != nil {
			return nil, err
		}
		return []byte(stored), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, v.kind)
	}
}

// LoadBytes reconstructs a value from external payload bytes. Unlike Load,
// an explicit tag is always required: the file itself carries no shape.
// With coercePrimitives off, int and float payloads come back as raw bytes.
func (c *Codec) LoadBytes(tag Tag, raw []byte, coercePrimitives bool) (Value, error) {
	switch tag {
	case TagNone:
		return Value{}, fmt.Errorf("%w: a tag is required to decode payload bytes", ErrUnknownConversion)
	case TagNull:
		return Null(), nil
	case TagString:
		return String(string(raw)), nil
	case TagBytes:
		return Bytes(raw), nil
	case TagBool:
		return Bool(len(raw) != 0 && string(raw) != "0"), nil
	case TagPath:
		external, err := c.Paths.Load(string(raw))
		if err != nil {
			return Value{}, err
		}
		return Path(external), nil
	case TagJSON, TagJSONB:
		return JSON(jsondata.FromRaw(string(raw), jsondata.Flavor(tag))), nil
	case TagInt:
		if !coercePrimitives {
			return Bytes(raw), nil
		}
		i, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, string(raw))
		}
		return Int(i), nil
	case TagFloat:
		if !coercePrimitives {
			return Bytes(raw), nil
		}
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrTypeMismatch, string(raw))
		}
		return Float(f), nil
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownConversion, tag)
	}
}

// storedText widens a scanned TEXT or BLOB column to a string.
func storedText(stored any) (string, bool) {
	switch v := stored.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Package jsondata provides a deferred JSON payload that postpones parsing
// and encoding until a caller asks for the other representation.
package jsondata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Flavor selects the SQLite storage function used when a payload is written.
type Flavor string

const (
	FlavorJSON  Flavor = "json"
	FlavorJSONB Flavor = "jsonb"
)

// Data holds a JSON document in exactly one of two states: raw (encoded
// text) or materialized (decoded value). Moving between states happens on
// demand; the cache flags on Dump and Load switch which state is kept.
type Data struct {
	raw    string
	hasRaw bool
	value  any
	flavor Flavor
}

// FromRaw wraps already-encoded JSON text without parsing it.
func FromRaw(raw string, flavor Flavor) *Data {
	if flavor == "" {
		flavor = FlavorJSON
	}
	return &Data{raw: raw, hasRaw: true, flavor: flavor}
}

// FromValue wraps a decoded value without encoding it.
func FromValue(value any, flavor Flavor) *Data {
	if flavor == "" {
		flavor = FlavorJSON
	}
	return &Data{value: value, flavor: flavor}
}

// Flavor reports the storage flavor this payload was created with.
func (d *Data) Flavor() Flavor {
	return d.flavor
}

// Materialized reports whether the payload currently holds a decoded value.
func (d *Data) Materialized() bool {
	return !d.hasRaw
}

// Dump returns the encoded text. A raw payload returns its string unchanged.
// With cache set, a materialized payload keeps the encoded string and drops
// the decoded value; keeping both would let them drift apart.
func (d *Data) Dump(cache bool) (string, error) {
	if d.hasRaw {
		return d.raw, nil
	}
	encoded, err := encode(d.value)
	if err != nil {
		return "", err
	}
	if cache {
		d.raw, d.hasRaw, d.value = encoded, true, nil
	}
	return encoded, nil
}

// Load returns the decoded value, parsing raw text on demand. With cache
// set, a raw payload keeps the decoded value and drops the string.
func (d *Data) Load(cache bool) (any, error) {
	if !d.hasRaw {
		return d.value, nil
	}
	var value any
	if err := json.Unmarshal([]byte(d.raw), &value); err != nil {
		return nil, fmt.Errorf("decode json payload: %w", err)
	}
	if cache {
		d.raw, d.hasRaw, d.value = "", false, value
	}
	return value, nil
}

// LoadCopy returns a deep copy of the decoded value, so mutations on the
// result cannot alias the payload's own state.
func (d *Data) LoadCopy() (any, error) {
	if d.hasRaw {
		var value any
		if err := json.Unmarshal([]byte(d.raw), &value); err != nil {
			return nil, fmt.Errorf("decode json payload: %w", err)
		}
		return value, nil
	}
	return d.normalized()
}

// Equal compares two payloads structurally. Two raw payloads with
// byte-identical text are equal without parsing; the shortcut can miss
// differently-formatted but equal documents, in which case both sides are
// decoded and compared.
func (d *Data) Equal(other *Data) (bool, error) {
	if other == nil {
		return false, nil
	}
	if d.hasRaw && other.hasRaw && d.raw == other.raw {
		return true, nil
	}
	left, err := d.normalized()
	if err != nil {
		return false, err
	}
	right, err := other.normalized()
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(left, right), nil
}

// normalized returns the payload as decoded stdlib JSON types regardless of
// state, so values built from Go types compare equal to parsed ones.
func (d *Data) normalized() (any, error) {
	raw := d.raw
	if !d.hasRaw {
		encoded, err := encode(d.value)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("decode json payload: %w", err)
	}
	return value, nil
}

func encode(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", fmt.Errorf("encode json payload: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

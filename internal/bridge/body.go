package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Body is a decoded JSON object that remembers the order its keys arrived
// in. Handlers that answer with one success entry per key walk Keys so the
// response mirrors the request.
type Body struct {
	keys []string
	raw  map[string]json.RawMessage
}

// ParseBody decodes a request body. Anything shorter than two bytes, or
// anything that is not a JSON object, yields an empty body.
func ParseBody(data []byte) Body {
	if len(bytes.TrimSpace(data)) <= 1 {
		return Body{}
	}
	b, err := decodeObject(data)
	if err != nil {
		return Body{}
	}
	return b
}

// BodyFromMap builds a body from an already decoded object, as stored in
// rule actions and schedule commands. Keys come out in encoding/json order.
func BodyFromMap(m map[string]any) Body {
	if len(m) == 0 {
		return Body{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return Body{}
	}
	b, err := decodeObject(data)
	if err != nil {
		return Body{}
	}
	return b
}

func decodeObject(data []byte) (Body, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return Body{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Body{}, errors.New("body is not an object")
	}
	b := Body{raw: map[string]json.RawMessage{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Body{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Body{}, errors.New("object key is not a string")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return Body{}, err
		}
		if _, seen := b.raw[key]; !seen {
			b.keys = append(b.keys, key)
		}
		b.raw[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return Body{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Body{}, errors.New("trailing data after object")
	}
	return b, nil
}

// Keys returns the keys in received order.
func (b Body) Keys() []string {
	return b.keys
}

func (b Body) Len() int {
	return len(b.keys)
}

func (b Body) Has(key string) bool {
	_, ok := b.raw[key]
	return ok
}

// Value decodes key into a generic value (objects become map[string]any,
// numbers float64). Missing keys and null yield nil.
func (b Body) Value(key string) any {
	raw, ok := b.raw[key]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// Decode unmarshals key into dst.
func (b Body) Decode(key string, dst any) error {
	raw, ok := b.raw[key]
	if !ok {
		return errors.New("missing key " + key)
	}
	return json.Unmarshal(raw, dst)
}

func (b Body) String(key string) (string, bool) {
	var s string
	if err := b.Decode(key, &s); err != nil {
		return "", false
	}
	return s, true
}

func (b Body) Bool(key string) (bool, bool) {
	var v bool
	if err := b.Decode(key, &v); err != nil {
		return false, false
	}
	return v, true
}

// Int accepts any JSON number and rounds it.
func (b Body) Int(key string) (int, bool) {
	var f float64
	if err := b.Decode(key, &f); err != nil {
		return 0, false
	}
	if f < 0 {
		return int(f - 0.5), true
	}
	return int(f + 0.5), true
}

func (b Body) Float(key string) (float64, bool) {
	var f float64
	if err := b.Decode(key, &f); err != nil {
		return 0, false
	}
	return f, true
}

func (b Body) Strings(key string) ([]string, bool) {
	var s []string
	if err := b.Decode(key, &s); err != nil || s == nil {
		return nil, false
	}
	return s, true
}

// Object returns the nested object at key, keeping its key order.
func (b Body) Object(key string) (Body, bool) {
	raw, ok := b.raw[key]
	if !ok {
		return Body{}, false
	}
	sub, err := decodeObject(raw)
	if err != nil {
		return Body{}, false
	}
	return sub, true
}

// Map decodes the whole body into a generic object.
func (b Body) Map() map[string]any {
	m := make(map[string]any, len(b.keys))
	for _, k := range b.keys {
		m[k] = b.Value(k)
	}
	return m
}

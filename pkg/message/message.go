// Package message defines the unit of flow through a route: an opaque,
// immutable-by-contract handle over a dynamically typed record.
package message

import (
	"encoding/json"
	"time"
)

// Message is an opaque handle wrapping a string-keyed record of dynamically
// typed values. Processors never see the underlying map type directly;
// mutation goes through With, which returns a new handle so that no stage
// can observe a later stage's changes.
type Message struct {
	fields map[string]any
}

// New creates a Message carrying the mandatory timestamp/source/route
// fields plus any additional fields.
func New(source, route string, fields map[string]any) Message {
	m := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		m[k] = v
	}
	m["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	m["source"] = source
	m["route"] = route
	return Message{fields: m}
}

// FromMap wraps an existing map as a Message without copying the mandatory
// fields in; callers that already populated timestamp/source/route (e.g.
// when rehydrating from an external processor's output) should use this.
func FromMap(m map[string]any) Message {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Message{fields: cp}
}

// With returns a new Message with key set to value, leaving the receiver
// untouched. This is the only mutation path: shallow-copy-on-write.
func (m Message) With(key string, value any) Message {
	cp := make(map[string]any, len(m.fields)+1)
	for k, v := range m.fields {
		cp[k] = v
	}
	cp[key] = value
	return Message{fields: cp}
}

// WithAll returns a new Message with every key in kv set, in one copy.
func (m Message) WithAll(kv map[string]any) Message {
	cp := make(map[string]any, len(m.fields)+len(kv))
	for k, v := range m.fields {
		cp[k] = v
	}
	for k, v := range kv {
		cp[k] = v
	}
	return Message{fields: cp}
}

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	_, ok := m.fields[key]
	return ok
}

// Raw returns the value stored under key, or nil if absent.
func (m Message) Raw(key string) any {
	return m.fields[key]
}

// String returns key as a string; non-string scalars are formatted, and a
// missing key yields "".
func (m Message) String(key string) string {
	v, ok := m.fields[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Int returns key as an int64; ok is false if the key is absent or not a
// number.
func (m Message) Int(key string) (int64, bool) {
	v, ok := m.fields[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns key as a bool; ok is false if absent or not a bool.
func (m Message) Bool(key string) (bool, bool) {
	v, ok := m.fields[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Array returns key as a slice; ok is false if absent or not a slice.
func (m Message) Array(key string) ([]any, bool) {
	v, ok := m.fields[key]
	if !ok {
		return nil, false
	}
	a, ok := v.([]any)
	return a, ok
}

// Object returns key as a nested record; ok is false if absent or not an
// object.
func (m Message) Object(key string) (map[string]any, bool) {
	v, ok := m.fields[key]
	if !ok {
		return nil, false
	}
	o, ok := v.(map[string]any)
	return o, ok
}

// Bytes returns key's value as raw bytes: []byte stored as-is, string
// as its UTF-8 encoding, anything else JSON-marshaled; nil if absent.
func (m Message) Bytes(key string) []byte {
	v, ok := m.fields[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return b
	}
}

// Map returns a copy of the underlying record. Callers must not assume
// mutating it affects the Message; use With instead.
func (m Message) Map() map[string]any {
	cp := make(map[string]any, len(m.fields))
	for k, v := range m.fields {
		cp[k] = v
	}
	return cp
}

// MarshalJSON renders the Message as its underlying record.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.fields)
}

// UnmarshalJSON replaces the Message's record with the decoded object.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.fields = raw
	return nil
}

// Package measurement holds the named body measurements returned by an
// inference endpoint.
package measurement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotObject is returned when a measurement payload is not a JSON object.
var ErrNotObject = errors.New("measurement: payload is not an object")

// Entry is one named measurement in centimeters.
type Entry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Set is an ordered mapping from measurement name to centimeters.
// A nil Set means "no measurements"; an empty non-nil Set is a valid
// (if unhelpful) result.
type Set []Entry

// Add returns s with name set to value. An existing name keeps its position.
func (s Set) Add(name string, value float64) Set {
	for i := range s {
		if s[i].Name == name {
			s[i].Value = value
			return s
		}
	}
	return append(s, Entry{Name: name, Value: value})
}

// Get returns the value stored under name.
func (s Set) Get(name string) (float64, bool) {
	for _, e := range s {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// Lookup returns the value of the first alias present, compared
// case-insensitively.
func (s Set) Lookup(aliases ...string) (float64, bool) {
	for _, alias := range aliases {
		for _, e := range s {
			if strings.EqualFold(e.Name, alias) {
				return e.Value, true
			}
		}
	}
	return 0, false
}

// Names lists measurement names in order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, e := range s {
		names[i] = e.Name
	}
	return names
}

// Clone returns a copy that shares no storage with s. Clone of nil is nil.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// MarshalJSON encodes the set as a JSON object in insertion order.
func (s Set) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("measurement %q: %w", e.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of numbers, keeping key order.
// Duplicate keys keep their first position and their last value.
func (s *Set) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotObject
	}

	out := Set{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		num, ok := valTok.(json.Number)
		if !ok {
			return fmt.Errorf("measurement %q: value is not a number", key)
		}
		value, err := num.Float64()
		if err != nil {
			return fmt.Errorf("measurement %q: %w", key, err)
		}
		out = out.Add(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}

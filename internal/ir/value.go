package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface for record field values.
// Only String, Int and Bool implement it. There is deliberately no float
// type: floats break canonical encoding and field equality.
type Value interface {
	value() // Sealed
}

// String is a text field value.
type String string

func (String) value() {}

// Int is an integer field value.
type Int int64

func (Int) value() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// Fields maps field names to values. Use SortedKeys for deterministic iteration.
type Fields map[string]Value

// ValueOf converts a Go value into a field Value.
// Accepts string, bool and the integer kinds; rejects floats and nil.
func ValueOf(v any) (Value, error) {
	switch val := v.(type) {
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden in record fields: %s", val)
		}
		return Int(n), nil
	case nil:
		return nil, fmt.Errorf("null is forbidden in record fields")
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in record fields: %v", val)
	default:
		return nil, fmt.Errorf("unsupported field type: %T", v)
	}
}

// FieldsOf converts a generic map (for example decoded YAML) to Fields.
func FieldsOf(m map[string]any) (Fields, error) {
	out := make(Fields, len(m))
	for k, v := range m {
		val, err := ValueOf(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Equal reports whether both objects hold the same keys and values.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || !ValueEqual(v, ov) {
			return false
		}
	}
	return true
}

// ValueEqual compares two field values. A missing value (nil) only equals nil.
func ValueEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings compares UTF-8 bytes, which orders some keys differently.
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// MarshalJSON writes the object with sorted keys.
// NOTE: This is not canonical marshaling; use MarshalCanonical for hashing.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(f[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	default:
		return nil, fmt.Errorf("unknown field value type: %T", v)
	}
}

// UnmarshalJSON decodes an object of strings, integers and booleans.
// Integers are decoded through json.Number to avoid float64 precision loss.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(Fields, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok && strings.ContainsAny(n.String(), ".eE") {
			return fmt.Errorf("field %q: floats are forbidden in record fields: %s", k, n)
		}
		val, err := ValueOf(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = val
	}
	*f = out
	return nil
}

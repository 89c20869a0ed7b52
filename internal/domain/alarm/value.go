package alarm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind is the type of a data point value.
type Kind uint8

// Supported value kinds.
const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindNumber
	KindString
	KindEnum
)

var kindNames = map[Kind]string{ //nolint:gochecknoglobals // Static lookup table.
	KindNull:    "null",
	KindBoolean: "boolean",
	KindInteger: "integer",
	KindNumber:  "number",
	KindString:  "string",
	KindEnum:    "enum",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ErrUnsupportedValue is returned when a raw JSON value is not a scalar.
var ErrUnsupportedValue = errors.New("unsupported data point value")

// Value is a typed data point value.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// Null is the value of a known data point that the cloud has not reported.
func Null() Value { return Value{kind: KindNull} }

// Bool creates a boolean value.
func Bool(v bool) Value { return Value{kind: KindBoolean, b: v} }

// Int creates an integer value.
func Int(v int64) Value { return Value{kind: KindInteger, i: v} }

// Float creates a non-integer numeric value.
func Float(v float64) Value { return Value{kind: KindNumber, f: v} }

// String creates a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Enum creates an enumerated value.
func Enum(v string) Value { return Value{kind: KindEnum, s: v} }

// Kind returns the value type.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is unset.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBoolean }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInteger }

// AsFloat returns the numeric payload of integer and number values.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindNumber:
		return v.f, true
	default:
		return 0, false
	}
}

// AsString returns the payload of string and enum values.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString || v.kind == KindEnum
}

// Interface returns the value as a plain Go value suitable for JSON and structpb.
func (v Value) Interface() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindNumber:
		return v.f
	case KindString, KindEnum:
		return v.s
	default:
		return nil
	}
}

// Equal compares kind-insensitive payloads: an enum equals a string with the same text
// and an integer equals a number with the same magnitude.
func (v Value) Equal(other Value) bool {
	if a, ok := v.AsString(); ok {
		b, okOther := other.AsString()

		return okOther && a == b
	}

	if a, ok := v.AsFloat(); ok {
		b, okOther := other.AsFloat()

		return okOther && a == b
	}

	return v.kind == other.kind && v.b == other.b
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindNumber:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString, KindEnum:
		return v.s
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ParseJSON converts a raw JSON scalar into a Value.
// Objects and arrays are rejected with ErrUnsupportedValue.
func ParseJSON(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Null(), nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}

	return FromInterface(decoded)
}

// FromInterface converts a decoded JSON or user-supplied value into a Value.
func FromInterface(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(typed), nil
	case string:
		return String(typed), nil
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return Int(i), nil
		}

		f, err := typed.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, typed)
		}

		return Float(f), nil
	case int:
		return Int(int64(typed)), nil
	case int64:
		return Int(typed), nil
	case float64:
		if typed == math.Trunc(typed) && math.Abs(typed) < 1<<53 {
			return Int(int64(typed)), nil
		}

		return Float(typed), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

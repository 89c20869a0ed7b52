package alarm

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Function value types declared by the cloud.
const (
	FunctionBoolean = "Boolean"
	FunctionInteger = "Integer"
	FunctionEnum    = "Enum"
	FunctionString  = "String"
	FunctionJSON    = "Json"
	FunctionRaw     = "Raw"
)

// FunctionSpec describes a writable data point.
type FunctionSpec struct {
	Code string `json:"code"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Desc string `json:"desc,omitempty"`

	// Range lists the allowed values of an Enum data point.
	Range []string `json:"range,omitempty"`
	// Min, Max and Step bound an Integer data point.
	Min  int64 `json:"min,omitempty"`
	Max  int64 `json:"max,omitempty"`
	Step int64 `json:"step,omitempty"`
	// Unit is the display unit of an Integer data point.
	Unit string `json:"unit,omitempty"`
}

// functionValues is the JSON document the cloud embeds as a string in "values".
type functionValues struct {
	Range []string `json:"range"`
	Min   int64    `json:"min"`
	Max   int64    `json:"max"`
	Step  int64    `json:"step"`
	Unit  string   `json:"unit"`
}

// ParseFunctionValues fills range and bounds from the cloud's "values" string.
// An empty or "{}" document is valid and leaves the spec untouched.
func (f *FunctionSpec) ParseFunctionValues(values string) error {
	values = strings.TrimSpace(values)
	if values == "" || values == "{}" {
		return nil
	}

	var parsed functionValues
	if err := json.Unmarshal([]byte(values), &parsed); err != nil {
		return fmt.Errorf("function %s values: %w", f.Code, err)
	}

	f.Range = parsed.Range
	f.Min = parsed.Min
	f.Max = parsed.Max
	f.Step = parsed.Step
	f.Unit = parsed.Unit

	return nil
}

// Coerce converts a user supplied value to the type the data point expects.
func (f *FunctionSpec) Coerce(raw any) (Value, error) {
	v, err := FromInterface(raw)
	if err != nil {
		return Value{}, err
	}

	switch f.Type {
	case FunctionBoolean:
		if text, ok := v.AsString(); ok {
			switch strings.ToLower(text) {
			case "true", "on", "1":
				return Bool(true), nil
			case "false", "off", "0":
				return Bool(false), nil
			}
		}

		if _, ok := v.AsBool(); !ok {
			return Value{}, fmt.Errorf("%w: %s expects a boolean", ErrUnsupportedValue, f.Code)
		}
	case FunctionInteger:
		return f.coerceInteger(v)
	case FunctionEnum:
		text, ok := v.AsString()
		if !ok || (len(f.Range) > 0 && !slices.Contains(f.Range, text)) {
			return Value{}, fmt.Errorf("%w: %s expects one of %v", ErrUnsupportedValue, f.Code, f.Range)
		}

		return Enum(text), nil
	}

	return v, nil
}

func (f *FunctionSpec) coerceInteger(v Value) (Value, error) {
	if text, ok := v.AsString(); ok {
		parsed, err := FromInterface(json.Number(text))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s expects an integer", ErrUnsupportedValue, f.Code)
		}

		v = parsed
	}

	n, ok := v.AsInt()
	if !ok {
		return Value{}, fmt.Errorf("%w: %s expects an integer", ErrUnsupportedValue, f.Code)
	}

	if f.Max > f.Min && (n < f.Min || n > f.Max) {
		return Value{}, fmt.Errorf("%w: %s must be within [%d, %d]", ErrUnsupportedValue, f.Code, f.Min, f.Max)
	}

	return v, nil
}

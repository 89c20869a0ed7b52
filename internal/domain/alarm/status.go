package alarm

import (
	"encoding/json"
	"time"
)

// DeviceStatus is an ordered set of data point values as confirmed by the cloud.
type DeviceStatus struct {
	// Sequence orders fetches: a fetch started later always carries a larger number.
	Sequence uint64
	// ConfirmedAt is when the cloud returned these values.
	ConfirmedAt time.Time

	codes  []string
	values map[string]Value
}

// NewDeviceStatus creates an empty status for the given fetch.
func NewDeviceStatus(sequence uint64, confirmedAt time.Time) *DeviceStatus {
	return &DeviceStatus{
		Sequence:    sequence,
		ConfirmedAt: confirmedAt,
		values:      make(map[string]Value),
	}
}

// Set stores a value, keeping the position of an existing code.
func (s *DeviceStatus) Set(code string, value Value) {
	if s.values == nil {
		s.values = make(map[string]Value)
	}

	if _, ok := s.values[code]; !ok {
		s.codes = append(s.codes, code)
	}

	s.values[code] = value
}

// Get returns the value of a data point.
func (s *DeviceStatus) Get(code string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}

	v, ok := s.values[code]

	return v, ok
}

// Codes returns the data point codes in cloud order.
func (s *DeviceStatus) Codes() []string {
	if s == nil {
		return nil
	}

	return append([]string(nil), s.codes...)
}

// Len returns the number of data points.
func (s *DeviceStatus) Len() int {
	if s == nil {
		return 0
	}

	return len(s.codes)
}

// Alarm derives the alarm state from ArmDataPoint.
func (s *DeviceStatus) Alarm() State {
	v, ok := s.Get(ArmDataPoint)
	if !ok {
		return StateUnknown
	}

	raw, ok := v.AsString()
	if !ok {
		return StateUnknown
	}

	return FromDataPoint(raw)
}

// FillKnown adds a null entry for every listed code the cloud omitted.
func (s *DeviceStatus) FillKnown(codes []string) {
	for _, code := range codes {
		if _, ok := s.values[code]; !ok {
			s.Set(code, Null())
		}
	}
}

// ApplyFunctions retypes string values of enum data points as enums.
func (s *DeviceStatus) ApplyFunctions(functions map[string]FunctionSpec) {
	for code, v := range s.values {
		spec, ok := functions[code]
		if !ok || spec.Type != FunctionEnum || v.Kind() != KindString {
			continue
		}

		text, _ := v.AsString()
		s.values[code] = Enum(text)
	}
}

// Map returns the values as plain Go values keyed by code.
func (s *DeviceStatus) Map() map[string]any {
	result := make(map[string]any, s.Len())
	if s == nil {
		return result
	}

	for _, code := range s.codes {
		result[code] = s.values[code].Interface()
	}

	return result
}

// Clone returns a deep copy of the status.
func (s *DeviceStatus) Clone() *DeviceStatus {
	if s == nil {
		return nil
	}

	cloned := &DeviceStatus{
		Sequence:    s.Sequence,
		ConfirmedAt: s.ConfirmedAt,
		codes:       append([]string(nil), s.codes...),
		values:      make(map[string]Value, len(s.values)),
	}

	for code, v := range s.values {
		cloned.values[code] = v
	}

	return cloned
}

// MarshalJSON implements json.Marshaler.
func (s *DeviceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

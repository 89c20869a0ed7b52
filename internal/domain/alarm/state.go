package alarm

import (
	"errors"
	"fmt"
	"strings"
)

// State is the alarm panel state exposed to consumers.
type State string

const (
	// StateUnknown means the arm data point is missing or carries an unmapped value.
	StateUnknown State = "unknown"
	// StateDisarmed means the panel is disarmed.
	StateDisarmed State = "disarmed"
	// StateArmedAway means the panel is fully armed.
	StateArmedAway State = "armed_away"
	// StateArmedHome means the panel is armed in stay mode.
	StateArmedHome State = "armed_home"
	// StatePending marks a command whose effect the cloud has not confirmed yet.
	StatePending State = "pending"
)

// ArmDataPoint is the data point that carries the panel arm mode.
const ArmDataPoint = "system_arm_type"

// Raw values of ArmDataPoint as reported by the cloud.
const (
	rawDisarmed = "disarmed"
	rawArmed    = "armed"
	rawHome     = "home"
)

// ErrUnknownMode is returned when an arm mode cannot be parsed.
var ErrUnknownMode = errors.New("unknown arm mode")

// FromDataPoint maps a raw ArmDataPoint value to a State.
func FromDataPoint(raw string) State {
	switch raw {
	case rawDisarmed:
		return StateDisarmed
	case rawArmed:
		return StateArmedAway
	case rawHome:
		return StateArmedHome
	default:
		return StateUnknown
	}
}

// DataPointValue returns the raw ArmDataPoint value that produces the state.
// The second result is false for states that cannot be commanded.
func (s State) DataPointValue() (string, bool) {
	switch s {
	case StateDisarmed:
		return rawDisarmed, true
	case StateArmedAway:
		return rawArmed, true
	case StateArmedHome:
		return rawHome, true
	default:
		return "", false
	}
}

// IsTarget reports whether the state can be requested by a command.
func (s State) IsTarget() bool {
	_, ok := s.DataPointValue()

	return ok
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Mode is an arming mode requested by a user.
type Mode string

const (
	// ModeAway arms every zone.
	ModeAway Mode = "away"
	// ModeHome arms the perimeter only.
	ModeHome Mode = "home"
)

// ParseMode accepts the mode names used by the CLI, gRPC and MQTT surfaces.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "away", "arm_away", "armed_away":
		return ModeAway, nil
	case "home", "stay", "arm_home", "armed_home":
		return ModeHome, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Target returns the alarm state the mode leads to.
func (m Mode) Target() State {
	if m == ModeHome {
		return StateArmedHome
	}

	return StateArmedAway
}

package alarm

import "time"

// CommandKind distinguishes verified alarm commands from best-effort option writes.
type CommandKind string

const (
	// CommandArm arms the panel.
	CommandArm CommandKind = "arm"
	// CommandDisarm disarms the panel.
	CommandDisarm CommandKind = "disarm"
	// CommandOption writes a settings data point.
	CommandOption CommandKind = "option"
)

// Outcome is how a command ended.
type Outcome string

const (
	// OutcomeConfirmed means the cloud reported the requested state.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeTimeout means the command was accepted but not confirmed in time.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeRejected means the cloud refused the command.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means the command could not be delivered.
	OutcomeFailed Outcome = "failed"
	// OutcomeCanceled means the session was discarded during shutdown.
	OutcomeCanceled Outcome = "canceled"
	// OutcomeSent means an unverified write was accepted by the cloud.
	OutcomeSent Outcome = "sent"
)

// CommandRecord is an audit entry for a single command.
type CommandRecord struct {
	ID         string      `json:"id"`
	Kind       CommandKind `json:"kind"`
	Actor      *Actor      `json:"actor,omitempty"`
	Code       string      `json:"code"`
	Value      string      `json:"value"`
	Outcome    Outcome     `json:"outcome"`
	Observed   State       `json:"observed,omitempty"`
	Attempts   int         `json:"attempts"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Error      string      `json:"error,omitempty"`
}

// Command is a single data point write.
type Command struct {
	Code  string
	Value Value
}

// Package poller implements the routine status poll of the panel as a guarded
// state machine that the command verifier pauses while it confirms a command.
package poller

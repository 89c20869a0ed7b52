// Package history persists the command audit trail.
//
// The BoltRepository appends one JSON record per arm, disarm or option command
// to a bbolt file and exposes a Repository interface that the daemon and the
// panel API depend on.
package history

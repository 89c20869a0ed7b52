// Package store holds the process-wide device snapshot. The poller and the
// command verifier write into it; the gRPC API and the MQTT bridge read it.
package store

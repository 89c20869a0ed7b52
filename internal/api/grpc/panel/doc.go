// Package panel exposes the alarm panel over gRPC.
//
// The service is described by hand with well-known protobuf messages
// (google.protobuf.Struct and Empty), so the daemon and the CLI share it
// without generated code. Arm and Disarm block until the verification
// session ends; a session that was not confirmed in time still succeeds
// with outcome "timeout" because the command may have taken effect.
package panel

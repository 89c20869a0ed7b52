// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Every component of the daemon receives a context and extracts the logger
// from it, so cloud calls, poll ticks and verification sessions are logged
// with their own scoped names and fields.
package logger

// Package version exposes build metadata for tuya-alarm-server and tuya-alarm-ctl.
//
// Version, Commit and BuildTime are injected via -ldflags "-X" at build time.
package version

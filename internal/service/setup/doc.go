// Package setup writes the settings file shared by the daemon and tuya-alarm-ctl.
//
// Before saving, the credentials are checked by opening a cloud session and
// fetching the configured device, so a typo surfaces at setup time rather than
// on the first daemon start.
package setup

// Package config defines the settings shared by the daemon and the control
// client and provides helpers to load, validate and save them in YAML format.
//
// Cloud credentials may be supplied through the TUYA_ACCESS_ID and
// TUYA_ACCESS_SECRET environment variables instead of the file.
package config

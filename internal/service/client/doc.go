// Package client implements the commands of tuya-alarm-ctl.
//
// Each command connects to the daemon's panel API, issues one call and prints
// the response as JSON. Arm and disarm fail when the daemon could not confirm
// the new state on the device.
package client

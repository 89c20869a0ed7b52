// Package common holds the pieces shared by tuya-alarm-ctl and the tests of
// the daemon: a PanelService client with separate query and command timeouts,
// and detection of the local actor recorded in the command history.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

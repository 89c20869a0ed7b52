// Package alarm contains the domain types of the alarm panel.
//
// It defines the alarm State and its mapping from the arm data point, typed
// data point Values, the ordered DeviceStatus confirmed by the cloud,
// FunctionSpec descriptions of writable data points, and the Actor and
// CommandRecord types used for the command audit trail.
package alarm

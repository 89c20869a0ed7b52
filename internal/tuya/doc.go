// Package tuya is the cloud side of the alarm daemon: request signing under the
// current and legacy schemes, data center discovery, the access token cache and
// the device calls used by the poller and the command verifier.
//
// A Session owns all cached state. Create one at startup with NewSession,
// call Open to resolve the endpoint, and Close it at shutdown.
package tuya

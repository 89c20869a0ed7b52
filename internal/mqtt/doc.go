// Package mqtt bridges the panel state to an MQTT broker.
//
// The bridge publishes Home Assistant discovery for the alarm panel and its
// options, mirrors every snapshot as retained JSON, and accepts DISARM,
// ARM_AWAY and ARM_HOME on <prefix>/<device>/alarm/set plus option writes on
// <prefix>/<device>/<dp>/set.
package mqtt

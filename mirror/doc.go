// Package mirror republishes property-change events to an MQTT broker.
//
// Every event from the device's bus becomes a retained message under a
// configurable topic base, so automations and dashboards can observe
// amplifier state without speaking the binary protocol. The mirror is
// one-directional; it never writes back to the device.
package mirror

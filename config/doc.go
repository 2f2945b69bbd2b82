// Package config loads and validates vsslctrl configuration.
//
// Configuration is optional: every value has a working default, so embedders
// can construct a Config in code or load one from YAML. Loading order is
// defaults, then YAML file values, then environment variable overrides
// (pattern: VSSLCTRL_SECTION_KEY, e.g. VSSLCTRL_MQTT_PASSWORD).
package config

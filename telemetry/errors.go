package telemetry

import "errors"

var (
	// ErrDisabled means telemetry is switched off in configuration.
	ErrDisabled = errors.New("telemetry: disabled in config")

	// ErrConnectionFailed means the InfluxDB instance could not be reached.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)

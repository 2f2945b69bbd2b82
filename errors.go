package vsslctrl

import "errors"

var (
	// ErrDuplicateZone means the zone id or host is already registered.
	ErrDuplicateZone = errors.New("vsslctrl: zone already registered")

	// ErrCapacity means the model has no free zone slot.
	ErrCapacity = errors.New("vsslctrl: zone slot outside model capacity")

	// ErrNoZones means the device has no zones registered.
	ErrNoZones = errors.New("vsslctrl: no zones registered")

	// ErrZoneNotFound means no zone is registered under the id.
	ErrZoneNotFound = errors.New("vsslctrl: zone not found")

	// ErrShutdown means the device has been shut down.
	ErrShutdown = errors.New("vsslctrl: device shut down")
)

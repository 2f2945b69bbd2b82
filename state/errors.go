package state

import "errors"

var (
	// ErrDomain means the requested value is outside the property's domain.
	// Nothing was sent to the device.
	ErrDomain = errors.New("state: value outside property domain")

	// ErrCapability means the entity's model does not support the property.
	ErrCapability = errors.New("state: property not supported by model")

	// ErrConfirmationTimeout means the device did not confirm a write within
	// the confirmation window. The store still holds the previous value.
	ErrConfirmationTimeout = errors.New("state: write not confirmed in time")

	// ErrShutdown means the engine has been shut down.
	ErrShutdown = errors.New("state: engine shut down")
)

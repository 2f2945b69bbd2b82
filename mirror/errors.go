package mirror

import "errors"

var (
	// ErrDisabled means the mirror is switched off in configuration.
	ErrDisabled = errors.New("mirror: disabled in config")

	// ErrConnectionFailed means the broker connection could not be
	// established.
	ErrConnectionFailed = errors.New("mirror: connection failed")
)

package capability

import "errors"

var (
	// ErrUnknownModel means the model string matches no supported hardware.
	ErrUnknownModel = errors.New("capability: unknown model")

	// ErrUnknownFeedback means the frame's command group maps to no
	// property. Such frames are dropped by the router.
	ErrUnknownFeedback = errors.New("capability: unknown feedback group")

	// ErrBadPayload means a recognised feedback frame carried a payload the
	// codec cannot decode.
	ErrBadPayload = errors.New("capability: malformed feedback payload")
)

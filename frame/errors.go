package frame

import "errors"

var (
	// ErrShortFrame is returned by Decode when the buffer does not yet hold
	// a complete frame. The caller should retain the buffer and append the
	// next read before decoding again.
	ErrShortFrame = errors.New("frame: incomplete frame")

	// ErrDesync is the base error wrapped by DesyncError.
	ErrDesync = errors.New("frame: stream out of sync")

	// ErrPayloadTooLarge is returned by Encode when the payload exceeds the
	// one-byte length field.
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// DesyncError reports a corrupted byte stream. Skip is the number of leading
// bytes to discard before decoding again; it points at the next occurrence
// of the frame marker, or past the end of the buffer if none is present.
type DesyncError struct {
	Skip int
}

func (e *DesyncError) Error() string {
	return ErrDesync.Error()
}

func (e *DesyncError) Unwrap() error {
	return ErrDesync
}

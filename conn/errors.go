package conn

import "errors"

var (
	// ErrConnectionFailed means the initial dial did not produce a usable
	// connection.
	ErrConnectionFailed = errors.New("conn: connection failed")

	// ErrNotConnected means the operation needs an established connection.
	ErrNotConnected = errors.New("conn: not connected")

	// ErrClosed means the client has been closed.
	ErrClosed = errors.New("conn: closed")

	// ErrSendQueueFull means the outbound queue is full; the frame was not
	// queued.
	ErrSendQueueFull = errors.New("conn: send queue full")
)

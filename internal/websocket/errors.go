package websocket

import "errors"

// Send failures are per-recipient conditions; broadcast callers record them
// and keep going.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrEncodeFailed     = errors.New("payload encode failed")
)

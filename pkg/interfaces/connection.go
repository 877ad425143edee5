package interfaces

// Connection is the narrow view of a live duplex client channel exposed to
// components outside the websocket package. All methods are safe for
// concurrent use; Send never blocks past the configured write timeout.
type Connection interface {
	// Send transmits one raw text frame. Returns ErrConnectionClosed on a
	// closed handle and ErrWriteTimeout when the outbound queue is stuck.
	Send(payload []byte) error

	// SendJSON marshals v and transmits it as one text frame.
	SendJSON(v any) error

	// UserID returns the authenticated owner of the connection.
	UserID() string

	// Close tears the connection down. Idempotent and safe from multiple
	// goroutines.
	Close() error
}

// TokenVerifier validates a bearer token presented during the WebSocket
// handshake and returns the authenticated user identity.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

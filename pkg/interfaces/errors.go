package interfaces

import "errors"

// Errors shared across collaborator boundaries. The store returns these so
// callers can branch without depending on driver error types.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidToken = errors.New("invalid or expired token")
)

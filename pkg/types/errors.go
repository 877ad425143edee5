package types

import "errors"

// Validation errors shared across API handlers and the frame dispatcher.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric plus underscore/hyphen only")
	ErrInvalidRoomID   = errors.New("room ID must be 1-64 characters, alphanumeric plus underscore/hyphen only")
	ErrInvalidRoomName = errors.New("room name must be 1-200 characters")
	ErrNoParticipants  = errors.New("participant list cannot be empty")
	ErrInvalidCreator  = errors.New("created_by must be a valid user ID")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
)

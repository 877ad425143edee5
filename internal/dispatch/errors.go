package dispatch

import "errors"

var (
	// ErrMalformedFrame means the raw frame was not valid JSON or failed
	// structural validation.
	ErrMalformedFrame = errors.New("dispatch: malformed frame")

	// ErrUnknownFrameType means the frame's type discriminator is not one
	// the server handles.
	ErrUnknownFrameType = errors.New("dispatch: unknown frame type")

	// ErrNotParticipant means the sender is not a member of the target room.
	ErrNotParticipant = errors.New("dispatch: sender is not a room participant")
)

package dispatch

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"chatwire/pkg/types"
)

// EventKind classifies a decoded inbound frame.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventChatMessage
	EventTypingStart
	EventTypingStop
)

func (k EventKind) String() string {
	switch k {
	case EventChatMessage:
		return "chat_message"
	case EventTypingStart:
		return "typing_start"
	case EventTypingStop:
		return "typing_stop"
	default:
		return "unknown"
	}
}

// InboundEvent is a validated, typed inbound frame. SenderID comes from the
// authenticated connection, never from the frame body.
type InboundEvent struct {
	Kind     EventKind
	SenderID string
	RoomID   string
	Content  string
}

// decodeFrame parses and validates one raw frame from senderID. Chat messages
// must carry non-empty content; typing frames must not be rejected for
// lacking it.
func decodeFrame(validate *validator.Validate, senderID string, raw []byte) (*InboundEvent, error) {
	var frame types.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if err := validate.Struct(&frame); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	event := &InboundEvent{
		SenderID: senderID,
		RoomID:   frame.RoomID,
		Content:  frame.Content,
	}

	switch frame.Type {
	case types.FrameTypeMessage:
		if frame.Content == "" {
			return nil, types.ErrEmptyContent
		}
		event.Kind = EventChatMessage
	case types.FrameTypeTyping:
		event.Kind = EventTypingStart
	case types.FrameTypeStopTyping:
		event.Kind = EventTypingStop
	default:
		return nil, errors.Wrap(ErrUnknownFrameType, frame.Type)
	}
	return event, nil
}

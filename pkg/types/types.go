package types

import (
	"time"
)

// Frame type discriminators used on the WebSocket wire. Inbound frames carry
// one of the first three; the server additionally emits error and notification
// envelopes.
const (
	FrameTypeMessage      = "message"
	FrameTypeTyping       = "typing"
	FrameTypeStopTyping   = "stop_typing"
	FrameTypeError        = "error"
	FrameTypeNotification = "notification"
)

// Room is a named set of user identities permitted to exchange messages.
// Membership is stored relationally; ParticipantIDs is the denormalized view
// returned by the store.
type Room struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CreatedBy      string    `json:"created_by"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message is a persisted chat message. ID and Timestamp are assigned
// server-side on save; broadcast envelopes carry the canonical saved values.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"chatRoomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// User is a directory entry backing senderName/userName fields in envelopes.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// InboundFrame is the raw client envelope as received on a connection, before
// it is decoded into a typed event by the dispatcher. Content is required for
// chat messages only; typing frames leave it empty.
type InboundFrame struct {
	Type    string `json:"type" validate:"required"`
	RoomID  string `json:"chatRoomId" validate:"required,max=64"`
	Content string `json:"content" validate:"max=65536"`
}

// ChatEnvelope is the outbound broadcast form of a chat message.
type ChatEnvelope struct {
	Type       string    `json:"type"`
	RoomID     string    `json:"chatRoomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// TypingEnvelope is the outbound broadcast form of a typing status change.
type TypingEnvelope struct {
	Type     string `json:"type"`
	RoomID   string `json:"chatRoomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SystemEnvelope carries errors and out-of-band notifications to one user.
type SystemEnvelope struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorEnvelope builds the error envelope sent back to a sender when a
// frame could not be processed.
func NewErrorEnvelope(message string) *SystemEnvelope {
	return &SystemEnvelope{
		Type:      FrameTypeError,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewNotificationEnvelope builds an out-of-band notification envelope.
func NewNotificationEnvelope(message string) *SystemEnvelope {
	return &SystemEnvelope{
		Type:      FrameTypeNotification,
		Message:   message,
		Timestamp: time.Now(),
	}
}

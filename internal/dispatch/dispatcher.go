// Package dispatch turns raw inbound WebSocket frames into persisted and
// broadcast chat activity. Frames from one connection are processed strictly
// in arrival order; a bad frame answers the sender with an error envelope and
// leaves the connection open.
package dispatch

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatwire/internal/broadcast"
	"chatwire/internal/websocket"
	"chatwire/pkg/interfaces"
	"chatwire/pkg/types"
)

// Dispatcher routes decoded inbound events: chat messages are persisted and
// then fanned out with the canonical saved values, typing updates are fanned
// out without persistence.
type Dispatcher struct {
	store       interfaces.ChatStore
	directory   interfaces.UserDirectory
	broadcaster *broadcast.Broadcaster
	validate    *validator.Validate
	limits      *rateLimiter
	logger      *zap.Logger
}

var _ websocket.FrameSink = (*Dispatcher)(nil)

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(store interfaces.ChatStore, directory interfaces.UserDirectory, broadcaster *broadcast.Broadcaster, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		directory:   directory,
		broadcaster: broadcaster,
		validate:    validator.New(),
		limits:      newRateLimiter(messageRateLimit, messageRateWindow),
		logger:      logger.Named("dispatch"),
	}
}

// HandleFrame processes one raw frame from conn. It never panics the read
// loop and never closes the connection; every failure is reported back to the
// sender as an error envelope.
func (d *Dispatcher) HandleFrame(ctx context.Context, conn *websocket.Connection, raw []byte) {
	event, err := decodeFrame(d.validate, conn.UserID(), raw)
	if err != nil {
		d.logger.Debug("rejected inbound frame",
			zap.String("user_id", conn.UserID()), zap.Error(err))
		d.sendError(conn, rejectionMessage(err))
		return
	}

	switch event.Kind {
	case EventChatMessage:
		if !d.limits.Allow(event.SenderID) {
			d.logger.Warn("sender rate limited", zap.String("user_id", event.SenderID))
			d.sendError(conn, "message rate limit exceeded")
			return
		}
		d.handleChatMessage(ctx, conn, event)
	case EventTypingStart, EventTypingStop:
		d.handleTyping(ctx, conn, event)
	}
}

// handleChatMessage persists the message and broadcasts the canonical saved
// form. Persist-then-route: a message that failed to save is never broadcast.
func (d *Dispatcher) handleChatMessage(ctx context.Context, conn *websocket.Connection, event *InboundEvent) {
	if err := d.authorize(ctx, event); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrRoomNotFound):
			d.sendError(conn, "room not found: "+event.RoomID)
		case errors.Is(err, ErrNotParticipant):
			d.sendError(conn, "you are not a participant of room "+event.RoomID)
		default:
			d.logger.Error("membership check failed",
				zap.String("room_id", event.RoomID), zap.Error(err))
			d.sendError(conn, "message could not be processed")
		}
		return
	}

	saved, err := d.store.SaveMessage(ctx, event.SenderID, event.RoomID, event.Content)
	if err != nil {
		d.logger.Error("message persistence failed",
			zap.String("room_id", event.RoomID),
			zap.String("sender_id", event.SenderID),
			zap.Error(err))
		d.sendError(conn, "message could not be saved")
		return
	}

	envelope := &types.ChatEnvelope{
		Type:       types.FrameTypeMessage,
		RoomID:     saved.RoomID,
		SenderID:   saved.SenderID,
		SenderName: d.displayName(ctx, saved.SenderID),
		Content:    saved.Content,
		Timestamp:  saved.Timestamp,
	}

	outcome, err := d.broadcaster.BroadcastRoom(ctx, event.RoomID, event.SenderID, envelope)
	if err != nil {
		// The message is already durable; the sender learns delivery failed.
		d.logger.Error("broadcast failed after save",
			zap.String("message_id", saved.ID), zap.Error(err))
		d.sendError(conn, "message saved but could not be delivered")
		return
	}
	if len(outcome.Failed) > 0 {
		d.logger.Warn("partial delivery",
			zap.String("message_id", saved.ID),
			zap.Int("failed", len(outcome.Failed)))
	}
}

// handleTyping fans out a typing status change. Typing is ephemeral: nothing
// is persisted, and an unknown room answers the sender without side effects.
func (d *Dispatcher) handleTyping(ctx context.Context, conn *websocket.Connection, event *InboundEvent) {
	frameType := types.FrameTypeTyping
	if event.Kind == EventTypingStop {
		frameType = types.FrameTypeStopTyping
	}

	envelope := &types.TypingEnvelope{
		Type:     frameType,
		RoomID:   event.RoomID,
		UserID:   event.SenderID,
		UserName: d.displayName(ctx, event.SenderID),
	}

	if _, err := d.broadcaster.BroadcastRoom(ctx, event.RoomID, event.SenderID, envelope); err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			d.sendError(conn, "room not found: "+event.RoomID)
			return
		}
		d.logger.Error("typing broadcast failed",
			zap.String("room_id", event.RoomID), zap.Error(err))
	}
}

// authorize checks that the sender belongs to the target room. Returns
// interfaces.ErrRoomNotFound or ErrNotParticipant (wrapped) on rejection.
func (d *Dispatcher) authorize(ctx context.Context, event *InboundEvent) error {
	member, err := d.store.IsParticipant(ctx, event.RoomID, event.SenderID)
	if err != nil {
		return err
	}
	if !member {
		return errors.Wrap(ErrNotParticipant, event.RoomID)
	}
	return nil
}

// displayName resolves the sender's name, falling back to the raw ID when the
// directory has no entry.
func (d *Dispatcher) displayName(ctx context.Context, userID string) string {
	name, err := d.directory.GetDisplayName(ctx, userID)
	if err != nil {
		return userID
	}
	return name
}

func (d *Dispatcher) sendError(conn *websocket.Connection, message string) {
	if err := conn.SendJSON(types.NewErrorEnvelope(message)); err != nil {
		d.logger.Debug("error envelope not delivered",
			zap.String("user_id", conn.UserID()), zap.Error(err))
	}
}

// rejectionMessage maps a decode failure to the client-facing error text.
func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrEmptyContent):
		return "message content must not be empty"
	case errors.Is(err, ErrUnknownFrameType):
		return "unsupported frame type"
	default:
		return "invalid frame"
	}
}

// Package broadcast delivers serialized payloads to the live connections of a
// room's participants. Delivery to each recipient is independent: one slow or
// failed peer never blocks or aborts delivery to the rest, and the caller gets
// a per-recipient outcome rather than a single error.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatwire/internal/room"
	"chatwire/internal/websocket"
)

// Outcome reports what happened to each intended recipient of one broadcast.
// A user appears in exactly one of Delivered, Failed, or Offline.
type Outcome struct {
	RoomID           string
	ExcludedSenderID string
	Delivered        []string
	Failed           map[string]error
	Offline          []string
}

// Broadcaster fans a payload out to room participants or a single user.
type Broadcaster struct {
	registry *websocket.Registry
	resolver *room.Resolver
	logger   *zap.Logger
}

// NewBroadcaster wires the fanout engine to the connection registry and the
// membership resolver.
func NewBroadcaster(registry *websocket.Registry, resolver *room.Resolver, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		resolver: resolver,
		logger:   logger.Named("broadcast"),
	}
}

// BroadcastRoom delivers payload to every current participant of roomID except
// excludedSenderID. Membership is resolved fresh for this call. Returns
// interfaces.ErrRoomNotFound (wrapped) when the room does not exist; recipient
// level failures are reported in the Outcome, not as an error.
func (b *Broadcaster) BroadcastRoom(ctx context.Context, roomID, excludedSenderID string, payload any) (*Outcome, error) {
	outcome := &Outcome{
		RoomID:           roomID,
		ExcludedSenderID: excludedSenderID,
		Failed:           make(map[string]error),
	}

	participants, err := b.resolver.ResolveParticipants(ctx, roomID)
	if err != nil {
		return outcome, errors.Wrapf(err, "resolving participants of room %s", roomID)
	}

	recipients := make([]string, 0, len(participants))
	for _, userID := range participants {
		if userID == excludedSenderID {
			continue
		}
		recipients = append(recipients, userID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return outcome, errors.Wrap(ErrEncodePayload, err.Error())
	}

	b.deliver(recipients, raw, outcome)
	b.logger.Debug("room broadcast complete",
		zap.String("room_id", roomID),
		zap.Int("delivered", len(outcome.Delivered)),
		zap.Int("failed", len(outcome.Failed)),
		zap.Int("offline", len(outcome.Offline)))
	return outcome, nil
}

// NotifyUser delivers payload to every live connection of a single user. The
// user being offline is a normal outcome, not an error.
func (b *Broadcaster) NotifyUser(userID string, payload any) (*Outcome, error) {
	outcome := &Outcome{Failed: make(map[string]error)}

	raw, err := json.Marshal(payload)
	if err != nil {
		return outcome, errors.Wrap(ErrEncodePayload, err.Error())
	}

	b.deliver([]string{userID}, raw, outcome)
	return outcome, nil
}

// deliver sends raw to each recipient concurrently and fills the outcome. The
// payload is serialized exactly once by the caller; every connection receives
// the same bytes. A user with several connections counts as Delivered when at
// least one of them accepted the frame.
func (b *Broadcaster) deliver(recipients []string, raw []byte, outcome *Outcome) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, userID := range recipients {
		conns := b.registry.Connections(userID)
		if len(conns) == 0 {
			outcome.Offline = append(outcome.Offline, userID)
			continue
		}

		wg.Add(1)
		go func(userID string, conns []*websocket.Connection) {
			defer wg.Done()

			var (
				accepted bool
				lastErr  error
			)
			for _, conn := range conns {
				if err := conn.Send(raw); err != nil {
					lastErr = err
					continue
				}
				accepted = true
			}

			mu.Lock()
			defer mu.Unlock()
			if accepted {
				outcome.Delivered = append(outcome.Delivered, userID)
			} else {
				outcome.Failed[userID] = lastErr
				b.logger.Warn("delivery failed for user",
					zap.String("user_id", userID), zap.Error(lastErr))
			}
		}(userID, conns)
	}

	wg.Wait()
}

// Package room resolves the participant set for a room at broadcast time.
// Every resolution is a fresh store lookup; the resolver holds no cache, so
// membership changes take effect on the next broadcast with no invalidation
// concern.
package room

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatwire/pkg/interfaces"
)

// Resolver answers "who is in this room right now".
type Resolver struct {
	store  interfaces.ChatStore
	logger *zap.Logger
}

// NewResolver returns a resolver backed by the given store.
func NewResolver(store interfaces.ChatStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.Named("room"),
	}
}

// ResolveParticipants returns the current participant set for roomID, or
// interfaces.ErrRoomNotFound. The returned slice is deduplicated and owned by
// the caller.
func (r *Resolver) ResolveParticipants(ctx context.Context, roomID string) ([]string, error) {
	participants, err := r.store.GetRoomParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return lo.Uniq(participants), nil
}

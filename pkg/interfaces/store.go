package interfaces

import (
	"context"

	"chatwire/pkg/types"
)

// ChatStore is the persistence collaborator consumed by the real-time core.
// It owns rooms, room membership, and the message log. Implementations must be
// safe for concurrent use; every broadcast performs a fresh membership lookup.
type ChatStore interface {
	// CreateRoom persists a room and its participant set.
	CreateRoom(ctx context.Context, room *types.Room) error

	// GetRoom returns a room with its participant IDs, or ErrRoomNotFound.
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)

	// ListRooms returns all rooms ordered by creation time.
	ListRooms(ctx context.Context) ([]*types.Room, error)

	// GetRoomParticipants returns the current participant set for a room,
	// or ErrRoomNotFound if the room does not exist.
	GetRoomParticipants(ctx context.Context, roomID string) ([]string, error)

	// IsParticipant reports whether userID belongs to the room. A missing
	// room yields ErrRoomNotFound rather than false.
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)

	// SaveMessage persists a chat message and returns the canonical saved
	// form with server-assigned ID and timestamp.
	SaveMessage(ctx context.Context, senderID, roomID, content string) (*types.Message, error)

	// RoomHistory returns up to limit most recent messages for a room in
	// ascending timestamp order.
	RoomHistory(ctx context.Context, roomID string, limit int) ([]*types.Message, error)

	// UpsertUser creates or updates a directory entry.
	UpsertUser(ctx context.Context, user *types.User) error

	// HealthCheck verifies connectivity with a bounded context.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the underlying database.
	Close() error
}

// UserDirectory resolves display names for envelope population. Kept separate
// from ChatStore so callers that only need names do not see the full store.
type UserDirectory interface {
	// GetDisplayName returns the display name for userID, or ErrUserNotFound.
	GetDisplayName(ctx context.Context, userID string) (string, error)
}

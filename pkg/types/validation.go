package types

import (
	"regexp"

	"github.com/samber/lo"
)

// MaxContentBytes caps chat message content size on the wire and at rest.
const MaxContentBytes = 65536

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

// IsValidUserID reports whether id is an acceptable user identity.
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// IsValidRoomID reports whether id is an acceptable room identity.
func IsValidRoomID(id string) bool {
	return roomIDRegex.MatchString(id)
}

// Validate checks a room prior to creation. Participant IDs are deduplicated
// in place so downstream membership rows stay unique.
func (r *Room) Validate() error {
	if len(r.Name) < 1 || len(r.Name) > 200 {
		return ErrInvalidRoomName
	}
	if !IsValidUserID(r.CreatedBy) {
		return ErrInvalidCreator
	}
	r.ParticipantIDs = lo.Uniq(r.ParticipantIDs)
	if len(r.ParticipantIDs) == 0 {
		return ErrNoParticipants
	}
	for _, id := range r.ParticipantIDs {
		if !IsValidUserID(id) {
			return ErrInvalidUserID
		}
	}
	return nil
}

// Validate checks a message prior to persistence.
func (m *Message) Validate() error {
	if !IsValidRoomID(m.RoomID) {
		return ErrInvalidRoomID
	}
	if !IsValidUserID(m.SenderID) {
		return ErrInvalidUserID
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

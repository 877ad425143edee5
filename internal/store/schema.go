package store

import (
	"database/sql"

	"github.com/pkg/errors"
)

// Schema is bootstrapped at startup. CREATE IF NOT EXISTS keeps restarts
// idempotent; membership rows cascade with their room.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL REFERENCES rooms(id),
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_participants_user ON room_participants(user_id);
`

func bootstrapSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "bootstrap schema")
	}
	return nil
}

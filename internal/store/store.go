// Package store implements the ChatStore and UserDirectory collaborators on
// SQLite. All writes funnel through a single goroutine; SQLite serializes
// writers anyway, and funneling avoids busy-timeout churn under concurrent
// message traffic. Reads go straight to the pooled connections.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatwire/internal/config"
	"chatwire/pkg/interfaces"
	"chatwire/pkg/types"
)

// Store is the SQLite-backed chat store.
type Store struct {
	db        *sql.DB
	writeCh   chan writeOp
	shutdown  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *zap.Logger
}

var (
	_ interfaces.ChatStore     = (*Store)(nil)
	_ interfaces.UserDirectory = (*Store)(nil)
)

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// New opens (creating if needed) the database at cfg.Path and starts the
// write loop.
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	if err := bootstrapSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		logger:   logger.Named("store"),
	}
	s.wg.Add(1)
	go s.writeLoop()
	s.logger.Info("chat store ready", zap.String("path", cfg.Path))
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.fn(s.db)
		case <-s.shutdown:
			// Drain queued writes before exiting so Close does not lose
			// acknowledged messages.
			for {
				select {
				case op := <-s.writeCh:
					op.result <- op.fn(s.db)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) executeWrite(ctx context.Context, fn func(*sql.DB) error) error {
	op := writeOp{fn: fn, result: make(chan error, 1)}
	select {
	case s.writeCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return errors.New("store is closed")
	}
	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		// Once the write loop has exited, the op has either been drained
		// (result is buffered) or will never run.
		s.wg.Wait()
		select {
		case err := <-op.result:
			return err
		default:
			return errors.New("store is closed")
		}
	}
}

// CreateRoom persists the room and its participant rows in one transaction.
func (s *Store) CreateRoom(ctx context.Context, room *types.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return errors.Wrap(err, "begin create room")
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.Exec(
			`INSERT INTO rooms (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`,
			room.ID, room.Name, room.CreatedBy, room.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "insert room")
		}
		for _, userID := range room.ParticipantIDs {
			if _, err := tx.Exec(
				`INSERT INTO room_participants (room_id, user_id) VALUES (?, ?)`,
				room.ID, userID,
			); err != nil {
				return errors.Wrapf(err, "insert participant %s", userID)
			}
		}
		return errors.Wrap(tx.Commit(), "commit create room")
	})
}

// GetRoom returns the room with its participant set, or ErrRoomNotFound.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	room := &types.Room{ID: roomID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, created_by, created_at FROM rooms WHERE id = ?`, roomID,
	).Scan(&room.Name, &room.CreatedBy, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query room")
	}

	participants, err := s.participants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.ParticipantIDs = participants
	return room, nil
}

// ListRooms returns all rooms ordered by creation time.
func (s *Store) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_by, created_at FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "query rooms")
	}
	defer rows.Close()

	var out []*types.Room
	for rows.Next() {
		room := &types.Room{}
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedBy, &room.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan room")
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rooms")
	}
	for _, room := range out {
		if room.ParticipantIDs, err = s.participants(ctx, room.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetRoomParticipants returns the current participant set for a room.
func (s *Store) GetRoomParticipants(ctx context.Context, roomID string) ([]string, error) {
	exists, err := s.roomExists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, interfaces.ErrRoomNotFound
	}
	return s.participants(ctx, roomID)
}

// IsParticipant reports whether userID belongs to the room.
func (s *Store) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	exists, err := s.roomExists(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, interfaces.ErrRoomNotFound
	}

	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?`,
		roomID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "query participant")
	}
	return true, nil
}

// SaveMessage persists a chat message and returns the canonical saved form.
func (s *Store) SaveMessage(ctx context.Context, senderID, roomID, content string) (*types.Message, error) {
	msg := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.roomExists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, interfaces.ErrRoomNotFound
	}

	err = s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO messages (id, room_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.Timestamp,
		)
		return errors.Wrap(err, "insert message")
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RoomHistory returns up to limit most recent messages in ascending order.
func (s *Store) RoomHistory(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	exists, err := s.roomExists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, interfaces.ErrRoomNotFound
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, content, created_at FROM (
			SELECT id, sender_id, content, created_at FROM messages
			WHERE room_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		roomID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		msg := &types.Message{RoomID: roomID}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.Content, &msg.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		out = append(out, msg)
	}
	return out, errors.Wrap(rows.Err(), "iterate history")
}

// UpsertUser creates or updates a directory entry.
func (s *Store) UpsertUser(ctx context.Context, user *types.User) error {
	if !types.IsValidUserID(user.ID) {
		return types.ErrInvalidUserID
	}
	if user.DisplayName == "" {
		user.DisplayName = user.ID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO users (id, display_name, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`,
			user.ID, user.DisplayName, user.CreatedAt,
		)
		return errors.Wrap(err, "upsert user")
	})
}

// GetDisplayName resolves a user's display name, implementing UserDirectory.
func (s *Store) GetDisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM users WHERE id = ?`, userID,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return "", interfaces.ErrUserNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "query display name")
	}
	return name, nil
}

// HealthCheck verifies connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "ping database")
}

// Close stops the write loop, waits for queued writes to drain, and closes
// the database. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()
		err = errors.Wrap(s.db.Close(), "close database")
	})
	return err
}

func (s *Store) roomExists(ctx context.Context, roomID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, roomID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "query room existence")
	}
	return true, nil
}

func (s *Store) participants(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY user_id`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "query participants")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, errors.Wrap(err, "scan participant")
		}
		out = append(out, userID)
	}
	return out, errors.Wrap(rows.Err(), "iterate participants")
}

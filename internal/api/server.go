// Package api is the HTTP management surface: room creation and listing,
// message history, user bootstrap, and health. It holds no business logic;
// handlers translate between JSON and the store, registry, and token issuer.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatwire/internal/broadcast"
	"chatwire/internal/websocket"
	"chatwire/pkg/interfaces"
	"chatwire/pkg/types"
)

// Registry is the narrow registry view the API needs for presence counts.
type Registry interface {
	Connections(userID string) []*websocket.Connection
	UserIDs() []string
	Stats() map[string]int
}

// TokenIssuer mints session tokens during user bootstrap.
type TokenIssuer interface {
	Issue(userID string, ttl time.Duration) (string, error)
}

// Notifier pushes an out-of-band envelope to one user's live connections.
type Notifier interface {
	NotifyUser(userID string, payload any) (*broadcast.Outcome, error)
}

// Server routes management requests. It implements http.Handler.
type Server struct {
	store    interfaces.ChatStore
	registry Registry
	tokens   TokenIssuer
	notifier Notifier
	router   *http.ServeMux
	logger   *zap.Logger
}

// NewServer wires the management API to its collaborators.
func NewServer(store interfaces.ChatStore, registry Registry, tokens TokenIssuer, notifier Notifier, logger *zap.Logger) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		tokens:   tokens,
		notifier: notifier,
		router:   http.NewServeMux(),
		logger:   logger.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRooms))))
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomByID))))
	s.router.Handle("/api/users", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUsers))))
	s.router.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// CreateRoomRequest is the POST /api/rooms body.
type CreateRoomRequest struct {
	Name           string   `json:"name"`
	CreatedBy      string   `json:"created_by"`
	ParticipantIDs []string `json:"participant_ids"`
}

// CreateUserRequest is the POST /api/users body.
type CreateUserRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// CreateUserResponse returns the directory entry plus a session token for the
// WebSocket handshake.
type CreateUserResponse struct {
	User  *types.User `json:"user"`
	Token string      `json:"token"`
}

// RoomResponse decorates a room with its current online participant count.
type RoomResponse struct {
	Room        *types.Room `json:"room"`
	OnlineCount int         `json:"online_count"`
}

// HistoryResponse is the GET /api/rooms/{id}/messages body.
type HistoryResponse struct {
	RoomID   string           `json:"room_id"`
	Messages []*types.Message `json:"messages"`
}

// HealthResponse reports liveness plus store and registry status.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createRoom(w, r)
	case http.MethodGet:
		s.listRooms(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(rest, "/")
	roomID := parts[0]
	if roomID == "" {
		s.sendError(w, "room ID required", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getRoom(w, r, roomID)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.roomHistory(w, r, roomID)
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	room := &types.Room{
		ID:             uuid.NewString(),
		Name:           req.Name,
		CreatedBy:      req.CreatedBy,
		ParticipantIDs: req.ParticipantIDs,
		CreatedAt:      time.Now().UTC(),
	}
	if err := room.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		s.logger.Error("room creation failed", zap.String("name", req.Name), zap.Error(err))
		s.sendError(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	// Online participants learn about the room immediately; offline ones find
	// it through GET /api/rooms.
	envelope := types.NewNotificationEnvelope("you were added to room " + room.Name)
	for _, userID := range room.ParticipantIDs {
		if userID == room.CreatedBy {
			continue
		}
		if _, err := s.notifier.NotifyUser(userID, envelope); err != nil {
			s.logger.Warn("room notification failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, RoomResponse{Room: room, OnlineCount: s.onlineCount(room.ParticipantIDs)})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.logger.Error("room listing failed", zap.Error(err))
		s.sendError(w, "failed to list rooms", http.StatusInternalServerError)
		return
	}

	out := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomResponse{Room: room, OnlineCount: s.onlineCount(room.ParticipantIDs)})
	}
	s.writeJSON(w, map[string]any{"rooms": out})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			s.sendError(w, "room not found", http.StatusNotFound)
		} else {
			s.logger.Error("room lookup failed", zap.String("room_id", roomID), zap.Error(err))
			s.sendError(w, "failed to get room", http.StatusInternalServerError)
		}
		return
	}
	s.writeJSON(w, RoomResponse{Room: room, OnlineCount: s.onlineCount(room.ParticipantIDs)})
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) roomHistory(w http.ResponseWriter, r *http.Request, roomID string) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := s.store.RoomHistory(r.Context(), roomID, limit)
	if err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			s.sendError(w, "room not found", http.StatusNotFound)
		} else {
			s.logger.Error("history lookup failed", zap.String("room_id", roomID), zap.Error(err))
			s.sendError(w, "failed to load history", http.StatusInternalServerError)
		}
		return
	}
	s.writeJSON(w, HistoryResponse{RoomID: roomID, Messages: messages})
}

// handleUsers bootstraps a directory entry and mints the session token the
// client presents on the WebSocket handshake.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.ID) {
		s.sendError(w, "invalid user ID", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.ID
	}

	user := &types.User{ID: req.ID, DisplayName: req.DisplayName, CreatedAt: time.Now().UTC()}
	if err := s.store.UpsertUser(r.Context(), user); err != nil {
		s.logger.Error("user upsert failed", zap.String("user_id", req.ID), zap.Error(err))
		s.sendError(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	token, err := s.tokens.Issue(user.ID, 24*time.Hour)
	if err != nil {
		s.logger.Error("token issue failed", zap.String("user_id", req.ID), zap.Error(err))
		s.sendError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, CreateUserResponse{User: user, Token: token})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]any{
		"connections":  s.registry.Stats(),
		"online_users": s.registry.UserIDs(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "connected",
		Connections: s.registry.Stats(),
	}
	if err := s.store.HealthCheck(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, resp)
}

// onlineCount reports how many of the given users hold at least one live
// connection.
func (s *Server) onlineCount(userIDs []string) int {
	count := 0
	for _, userID := range userIDs {
		if len(s.registry.Connections(userID)) > 0 {
			count++
		}
	}
	return count
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response encode failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.writeJSON(w, ErrorResponse{Error: message, Code: code})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

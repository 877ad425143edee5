package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatwire/internal/config"
	"chatwire/pkg/interfaces"
	"chatwire/pkg/types"
)

// maxFrameBytes bounds inbound frames: content limit plus envelope overhead.
const maxFrameBytes = types.MaxContentBytes + 1024

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the edge; the server accepts all.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// FrameSink consumes raw inbound frames from a connection's read loop. Frames
// from one connection arrive strictly in order; HandleFrame runs on the read
// loop goroutine, so a slow sink backpressures only its own connection.
type FrameSink interface {
	HandleFrame(ctx context.Context, conn *Connection, raw []byte)
}

// Handler upgrades HTTP requests to WebSocket connections and owns the
// per-connection read loop.
type Handler struct {
	registry *Registry
	verifier interfaces.TokenVerifier
	sink     FrameSink
	cfg      config.WebSocketConfig
	logger   *zap.Logger
}

// NewHandler wires the handshake pipeline: verify token, upgrade, register,
// then pump frames into the sink.
func NewHandler(registry *Registry, verifier interfaces.TokenVerifier, sink FrameSink, cfg config.WebSocketConfig, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		verifier: verifier,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.Named("ws"),
	}
}

// HandleWebSocket authenticates and upgrades a client connection. The token
// comes from the `token` query parameter or an Authorization bearer header.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own HTTP error response.
		h.logger.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	conn := NewConnection(ws, userID, Options{
		SendBuffer:   h.cfg.SendBuffer,
		SendTimeout:  h.cfg.SendTimeout,
		WriteTimeout: h.cfg.WriteTimeout,
	}, h.logger)

	h.registry.Add(userID, conn)
	h.logger.Info("connection established", zap.String("user_id", userID))

	go h.readLoop(conn)
}

// readLoop processes inbound frames in arrival order until the transport
// closes. Registry removal runs unconditionally on exit, including panics in
// the sink, so a dead connection can never linger in the registry.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.registry.Remove(conn.UserID(), conn)
		_ = conn.Close()
		h.logger.Info("connection closed", zap.String("user_id", conn.UserID()))
	}()

	if err := conn.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		h.logger.Warn("set read deadline failed", zap.Error(err))
		return
	}
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read loop ended", zap.String("user_id", conn.UserID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.sink.HandleFrame(conn.ctx, conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

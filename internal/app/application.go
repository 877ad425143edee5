// Package app assembles the chatwire server: store, resolver, registry,
// broadcaster, dispatcher, WebSocket handler, and HTTP API, in dependency
// order, and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatwire/internal/api"
	"chatwire/internal/auth"
	"chatwire/internal/broadcast"
	"chatwire/internal/config"
	"chatwire/internal/dispatch"
	"chatwire/internal/room"
	"chatwire/internal/store"
	"chatwire/internal/websocket"
)

// Application holds the wired components and the HTTP server fronting them.
type Application struct {
	config     *config.Config
	store      *store.Store
	registry   *websocket.Registry
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds an application from cfg. Components initialize in dependency
// order: store, resolver, registry, broadcaster, dispatcher, WebSocket
// handler, API, HTTP server.
func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	chatStore, err := store.New(cfg.Database, logger)
	if err != nil {
		return nil, errors.Wrap(err, "initializing chat store")
	}

	resolver := room.NewResolver(chatStore, logger)
	registry := websocket.NewRegistry(logger)
	broadcaster := broadcast.NewBroadcaster(registry, resolver, logger)
	dispatcher := dispatch.NewDispatcher(chatStore, chatStore, broadcaster, logger)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	wsHandler := websocket.NewHandler(registry, verifier, dispatcher, cfg.WebSocket, logger)
	apiServer := api.NewServer(chatStore, registry, verifier, broadcaster, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      chatStore,
		registry:   registry,
		httpServer: httpServer,
		logger:     logger.Named("app"),
	}, nil
}

// Start begins serving. It returns once the listener is up or startup failed.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting chatwire", zap.String("addr", a.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "http server")
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		a.logger.Info("chatwire started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: stop accepting HTTP, close
// live WebSocket connections, then flush and close the store.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down chatwire")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}

	a.registry.CloseAll()

	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", zap.Error(err))
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (a *Application) Addr() string {
	return a.httpServer.Addr
}

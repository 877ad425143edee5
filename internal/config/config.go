// Package config carries the runtime settings for the chatwire server.
// Defaults cover local development; the environment overrides them through
// go-env struct tags (a .env file is loaded by main before unmarshalling).
package config

import (
	"time"

	env "github.com/Netflix/go-env"
	"github.com/pkg/errors"
)

// Config is the complete server configuration.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	LogLevel  string `env:"CHATWIRE_LOG_LEVEL,default=info"`
}

// HTTPConfig covers the public HTTP/WebSocket listener.
type HTTPConfig struct {
	Host         string        `env:"CHATWIRE_HTTP_HOST,default=0.0.0.0"`
	Port         int           `env:"CHATWIRE_HTTP_PORT,default=8080"`
	ReadTimeout  time.Duration `env:"CHATWIRE_HTTP_READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"CHATWIRE_HTTP_WRITE_TIMEOUT,default=30s"`
}

// DatabaseConfig covers the SQLite chat store.
type DatabaseConfig struct {
	Path           string        `env:"CHATWIRE_DATABASE_PATH,default=./chatwire.db"`
	MaxConnections int           `env:"CHATWIRE_DATABASE_MAX_CONNECTIONS,default=10"`
	BusyTimeout    time.Duration `env:"CHATWIRE_DATABASE_BUSY_TIMEOUT,default=5s"`
}

// WebSocketConfig covers per-connection transport behavior.
type WebSocketConfig struct {
	PingInterval time.Duration `env:"CHATWIRE_WS_PING_INTERVAL,default=30s"`
	ReadTimeout  time.Duration `env:"CHATWIRE_WS_READ_TIMEOUT,default=60s"`
	WriteTimeout time.Duration `env:"CHATWIRE_WS_WRITE_TIMEOUT,default=5s"`
	SendTimeout  time.Duration `env:"CHATWIRE_WS_SEND_TIMEOUT,default=5s"`
	SendBuffer   int           `env:"CHATWIRE_WS_SEND_BUFFER,default=100"`
}

// AuthConfig covers handshake token verification.
type AuthConfig struct {
	JWTSecret string `env:"CHATWIRE_JWT_SECRET,default=dev-only-secret-change-me"`
	Issuer    string `env:"CHATWIRE_JWT_ISSUER,default=chatwire"`
}

// Default returns the configuration used when no environment is present.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:           "./chatwire.db",
			MaxConnections: 10,
			BusyTimeout:    5 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			SendTimeout:  5 * time.Second,
			SendBuffer:   100,
		},
		Auth: AuthConfig{
			JWTSecret: "dev-only-secret-change-me",
			Issuer:    "chatwire",
		},
		LogLevel: "info",
	}
}

// Load unmarshals configuration from the process environment on top of the
// defaults.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 {
		return errors.New("WebSocket ping interval and read timeout must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.SendTimeout <= 0 {
		return errors.New("WebSocket write and send timeouts must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("WebSocket send buffer must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret cannot be empty")
	}
	return nil
}

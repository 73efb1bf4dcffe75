package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "relaybot/pkg/logx"
)

// Store is the persistence API used by the session map, the memory
// recorder and the relay handler.
type Store interface {
	// PutSession maps a bot message key to an upstream session id until expires.
	PutSession(ctx context.Context, key, sessionID string, expires time.Time) error
	// GetSession returns ok=false for unknown or expired keys.
	GetSession(ctx context.Context, key string) (sessionID string, ok bool, err error)
	DeleteSession(ctx context.Context, key string) error
	// PruneSessions removes sessions that expired before now.
	PruneSessions(ctx context.Context, now time.Time) (int, error)

	// SaveBacklog replaces the stored backlog. Empty data clears it.
	SaveBacklog(ctx context.Context, data []byte) error
	LoadBacklog(ctx context.Context) ([]byte, error)

	AppendExchange(ctx context.Context, e Exchange) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// ValidDriver reports whether Open understands driver.
func ValidDriver(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
		return true
	}
	return false
}

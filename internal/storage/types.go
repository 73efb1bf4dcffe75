package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (modernc.org/sqlite, WAL)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Exchange records one relayed message and its outcome.
// Message text is not stored; only sizes.
type Exchange struct {
	At        time.Time `json:"at"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	MessageID int       `json:"message_id"`
	ReplyID   int       `json:"reply_id,omitempty"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Score     float64   `json:"score,omitempty"`
	HasScore  bool      `json:"has_score,omitempty"`
	InChars   int       `json:"in_chars"`
	OutChars  int       `json:"out_chars"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// Package session remembers which upstream AI session a bot reply belongs to,
// so a user replying to that message continues the same conversation.
package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

const (
	DefaultTTL = 24 * time.Hour
	DefaultMax = 10000
)

type Config struct {
	TTL time.Duration
	Max int
}

// Key identifies a bot message.
func Key(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

type item struct {
	id      string
	expires time.Time
	added   uint64
}

// Map is an in-memory reply-chain index with expiry and a size cap, backed by
// storage when one is configured. Misses fall through to storage.
type Map struct {
	mu    sync.Mutex
	cfg   Config
	items map[string]item
	seq   uint64
	now   func() time.Time

	store storage.Store
	log   logx.Logger
}

func New(cfg Config, store storage.Store, log logx.Logger) *Map {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Map{cfg: normalize(cfg), items: map[string]item{}, now: time.Now, store: store, log: log}
}

func normalize(cfg Config) Config {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	return cfg
}

func (m *Map) Apply(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = normalize(cfg)
	for len(m.items) > m.cfg.Max {
		m.evictOldestLocked()
	}
}

// Put remembers sessionID for the bot message (chatID, messageID).
func (m *Map) Put(ctx context.Context, chatID int64, messageID int, sessionID string) {
	if sessionID == "" || messageID == 0 {
		return
	}
	key := Key(chatID, messageID)

	m.mu.Lock()
	now := m.now()
	expires := now.Add(m.cfg.TTL)
	m.seq++
	m.items[key] = item{id: sessionID, expires: expires, added: m.seq}
	if len(m.items) > m.cfg.Max {
		m.pruneLocked(now)
		for len(m.items) > m.cfg.Max {
			m.evictOldestLocked()
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.PutSession(ctx, key, sessionID, expires); err != nil && !errors.Is(err, storage.ErrDisabled) {
			m.log.Warn("session persist failed", logx.String("key", key), logx.Err(err))
		}
	}
}

// Get returns the session for a bot message, or "" when unknown or expired.
func (m *Map) Get(ctx context.Context, chatID int64, messageID int) string {
	if messageID == 0 {
		return ""
	}
	key := Key(chatID, messageID)

	m.mu.Lock()
	it, ok := m.items[key]
	now := m.now()
	if ok && now.After(it.expires) {
		delete(m.items, key)
		ok = false
	}
	m.mu.Unlock()
	if ok {
		return it.id
	}
	if m.store == nil {
		return ""
	}
	id, found, err := m.store.GetSession(ctx, key)
	if err != nil {
		m.log.Debug("session lookup failed", logx.String("key", key), logx.Err(err))
		return ""
	}
	if !found {
		return ""
	}
	return id
}

// Forget drops the session for a bot message. It reports whether one existed
// in memory or storage.
func (m *Map) Forget(ctx context.Context, chatID int64, messageID int) bool {
	key := Key(chatID, messageID)
	m.mu.Lock()
	_, existed := m.items[key]
	delete(m.items, key)
	m.mu.Unlock()

	if m.store != nil {
		if !existed {
			_, existed, _ = m.store.GetSession(ctx, key)
		}
		if err := m.store.DeleteSession(ctx, key); err != nil && !errors.Is(err, storage.ErrDisabled) {
			m.log.Warn("session delete failed", logx.String("key", key), logx.Err(err))
		}
	}
	return existed
}

// Prune removes expired sessions from memory and storage.
func (m *Map) Prune(ctx context.Context) int {
	m.mu.Lock()
	now := m.now()
	n := m.pruneLocked(now)
	m.mu.Unlock()
	if m.store != nil {
		sn, err := m.store.PruneSessions(ctx, now)
		if err != nil && !errors.Is(err, storage.ErrDisabled) {
			m.log.Warn("session prune failed", logx.Err(err))
		}
		if sn > n {
			n = sn
		}
	}
	return n
}

func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Map) pruneLocked(now time.Time) int {
	n := 0
	for k, it := range m.items {
		if now.After(it.expires) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

func (m *Map) evictOldestLocked() {
	var (
		oldestKey string
		oldest    uint64
		found     bool
	)
	for k, it := range m.items {
		if !found || it.added < oldest {
			oldestKey, oldest, found = k, it.added, true
		}
	}
	if found {
		delete(m.items, oldestKey)
	}
}

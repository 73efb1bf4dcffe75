package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

var ErrNothingToFlush = errors.New("memory: nothing to flush")

const (
	DefaultMaxChars        = 64000
	DefaultScoreThreshold  = 1.0
	DefaultFailureCooldown = 5 * time.Minute
)

// Config controls when the buffer is flushed.
type Config struct {
	Enabled bool
	// MaxChars flushes once the buffer grows past it.
	MaxChars int
	// ScoreTrigger flushes when a reply scores above ScoreThreshold.
	ScoreTrigger   bool
	ScoreThreshold float64
	// MaxBacklogChars bounds what is kept after failed uploads. 0 means 4*MaxChars.
	MaxBacklogChars int
	// FailureCooldown suppresses threshold flushes from Record after a failed
	// upload. Explicit Flush calls (schedule, command, shutdown) still run.
	FailureCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.MaxBacklogChars <= 0 {
		c.MaxBacklogChars = 4 * c.MaxChars
	}
	if c.FailureCooldown <= 0 {
		c.FailureCooldown = DefaultFailureCooldown
	}
	return c
}

// Sink receives flushed text.
type Sink interface {
	Upload(ctx context.Context, text string, createdAt time.Time) error
}

// FlushEvent is the Data of memory.flushed and memory.flush_failed events.
type FlushEvent struct {
	Reason  string
	Entries int
	Chars   int
	Took    time.Duration
	Dropped int
	Err     string
}

type Stats struct {
	Enabled    bool
	Entries    int
	Chars      int
	Flushes    uint64
	Failures   uint64
	LastFlush  time.Time
	LastErr    string
	MaxChars   int
	DroppedOld uint64
}

// Recorder appends exchanges to the buffer and flushes it to the sink.
// The buffer is mirrored to storage (when configured) so a restart does not
// lose text that was never uploaded.
type Recorder struct {
	buf   *Buffer
	sink  Sink
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu  sync.RWMutex
	cfg Config

	// flushMu serializes flushes; Record never waits on it while uploading.
	flushMu sync.Mutex
	// persistMu orders backlog writes.
	persistMu sync.Mutex

	statsMu  sync.Mutex
	stats    Stats
	failedAt time.Time // last failed upload; zero after a success

	now func() time.Time
}

func NewRecorder(cfg Config, sink Sink, store storage.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{buf: NewBuffer(), sink: sink, store: store, bus: bus, log: log, cfg: cfg.withDefaults(), now: time.Now}
}

func (r *Recorder) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Recorder) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Restore loads the persisted backlog into the buffer.
func (r *Recorder) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	b, err := r.store.LoadBacklog(ctx)
	if err != nil {
		return 0, fmt.Errorf("load backlog: %w", err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return 0, fmt.Errorf("decode backlog: %w", err)
	}
	r.buf.Restore(entries, r.config().MaxBacklogChars)
	r.log.Info("memory backlog restored", logx.Int("entries", len(entries)), logx.Int("chars", r.buf.Len()))
	return len(entries), nil
}

// Record appends one exchange and flushes when a threshold is crossed.
// It reports whether a flush ran.
func (r *Recorder) Record(ctx context.Context, e Entry) (bool, error) {
	cfg := r.config()
	if !cfg.Enabled {
		return false, nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	size := r.buf.Append(e)
	r.persist(ctx)

	reason := ""
	switch {
	case size > cfg.MaxChars:
		reason = "size"
	case cfg.ScoreTrigger && e.HasScore && e.Score > cfg.ScoreThreshold:
		reason = "score"
	}
	if reason == "" {
		return false, nil
	}
	if until, cooling := r.coolingDown(cfg); cooling {
		r.log.Debug("memory flush deferred after failed upload",
			logx.String("reason", reason),
			logx.Time("until", until),
			logx.Int("chars", size),
		)
		return false, nil
	}
	_, err := r.Flush(ctx, reason)
	return true, err
}

// Flush uploads the whole buffer. On failure the entries go back in front of
// the buffer, bounded by MaxBacklogChars.
func (r *Recorder) Flush(ctx context.Context, reason string) (FlushEvent, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	text, entries := r.buf.Drain()
	ev := FlushEvent{Reason: reason, Entries: len(entries), Chars: len([]rune(text))}
	if len(entries) == 0 {
		return ev, ErrNothingToFlush
	}
	if r.sink == nil {
		r.buf.Restore(entries, 0)
		return ev, errors.New("memory: no uploader configured")
	}

	start := time.Now()
	err := r.sink.Upload(ctx, text, entries[len(entries)-1].At)
	ev.Took = time.Since(start)
	if err != nil {
		ev.Dropped = r.buf.Restore(entries, r.config().MaxBacklogChars)
		ev.Err = err.Error()
		r.persist(ctx)
		r.noteFlush(ev, err)
		r.log.Warn("memory flush failed; kept for retry",
			logx.String("reason", reason),
			logx.Int("entries", ev.Entries),
			logx.Int("chars", ev.Chars),
			logx.Int("dropped_oldest", ev.Dropped),
			logx.Err(err),
		)
		r.publish(eventbus.TypeMemoryFlushError, ev)
		return ev, err
	}

	r.persist(ctx)
	r.noteFlush(ev, nil)
	r.log.Info("memory flushed",
		logx.String("reason", reason),
		logx.Int("entries", ev.Entries),
		logx.Int("chars", ev.Chars),
		logx.Duration("took", ev.Took),
	)
	r.publish(eventbus.TypeMemoryFlushed, ev)
	return ev, nil
}

// persist mirrors the buffer to storage. Failures are logged only.
func (r *Recorder) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	entries := r.buf.Entries()
	var data []byte
	if len(entries) > 0 {
		var err error
		if data, err = json.Marshal(entries); err != nil {
			r.log.Warn("backlog encode failed", logx.Err(err))
			return
		}
	}
	// a canceled request context must not prevent the write
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.SaveBacklog(pctx, data); err != nil && !errors.Is(err, storage.ErrDisabled) {
		r.log.Warn("backlog save failed", logx.Err(err))
	}
}

func (r *Recorder) noteFlush(ev FlushEvent, err error) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	now := r.now()
	r.stats.LastFlush = now
	r.stats.DroppedOld += uint64(ev.Dropped)
	if err != nil {
		r.stats.Failures++
		r.stats.LastErr = err.Error()
		r.failedAt = now
		return
	}
	r.stats.Flushes++
	r.stats.LastErr = ""
	r.failedAt = time.Time{}
}

// coolingDown reports whether the last upload failed less than
// FailureCooldown ago, and when the cooldown ends.
func (r *Recorder) coolingDown(cfg Config) (time.Time, bool) {
	r.statsMu.Lock()
	failedAt := r.failedAt
	r.statsMu.Unlock()
	if failedAt.IsZero() {
		return time.Time{}, false
	}
	until := failedAt.Add(cfg.FailureCooldown)
	return until, r.now().Before(until)
}

func (r *Recorder) publish(typ string, ev FlushEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (r *Recorder) Stats() Stats {
	cfg := r.config()
	r.statsMu.Lock()
	st := r.stats
	r.statsMu.Unlock()
	st.Enabled = cfg.Enabled
	st.MaxChars = cfg.MaxChars
	st.Entries = r.buf.Count()
	st.Chars = r.buf.Len()
	return st
}

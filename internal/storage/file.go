package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "relaybot/pkg/logx"
)

// compactEvery is the number of journal appends between snapshot rewrites.
const compactEvery = 256

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.exchanges.jsonl          (append-only JSON Lines)
//   - <prefix>.sessions.snapshot.json   (periodic snapshot)
//   - <prefix>.sessions.journal.jsonl   (append-only journal)
//   - <prefix>.backlog.json             (replaced atomically)
//
// The session journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	exchangeFile *os.File

	snapshotPath string
	journalFile  *os.File
	sessions     map[string]sessionRow
	writes       int

	backlogPath string
}

type sessionRow struct {
	ID      string `json:"id"`
	Expires int64  `json:"expires"` // unix milli
}

type journalRecord struct {
	Key     string `json:"key"`
	ID      string `json:"id,omitempty"`
	Expires int64  `json:"expires,omitempty"`
	Del     bool   `json:"del,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	ef, err := os.OpenFile(prefix+".exchanges.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	snapPath := prefix + ".sessions.snapshot.json"
	journalPath := prefix + ".sessions.journal.jsonl"
	sessions := map[string]sessionRow{}
	if err := loadSnapshot(snapPath, sessions); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("session snapshot unreadable; starting empty", logx.Err(err))
	}
	if err := replayJournal(journalPath, sessions); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("session journal replay failed", logx.Err(err))
	}
	pruneRows(sessions, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	st := &fileStore{
		log:          log,
		exchangeFile: ef,
		snapshotPath: snapPath,
		journalFile:  jf,
		sessions:     sessions,
		backlogPath:  prefix + ".backlog.json",
	}
	// Start from a clean journal so a torn tail never merges with new records.
	if err := st.compactLocked(); err != nil {
		_ = jf.Close()
		_ = ef.Close()
		return nil, err
	}
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.exchangeFile != nil {
		errs = append(errs, s.exchangeFile.Close())
		s.exchangeFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendExchange(_ context.Context, e Exchange) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exchangeFile == nil {
		return errors.New("exchange log closed")
	}
	return json.NewEncoder(s.exchangeFile).Encode(e)
}

func (s *fileStore) PutSession(_ context.Context, key, sessionID string, expires time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" || sessionID == "" {
		return nil
	}
	row := sessionRow{ID: sessionID, Expires: expires.UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Key: key, ID: row.ID, Expires: row.Expires}); err != nil {
		return err
	}
	s.sessions[key] = row
	return nil
}

func (s *fileStore) GetSession(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sessions[strings.TrimSpace(key)]
	if !ok || row.Expires < time.Now().UnixMilli() {
		return "", false, nil
	}
	return row.ID, true, nil
}

func (s *fileStore) DeleteSession(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Key: key, Del: true}); err != nil {
		return err
	}
	delete(s.sessions, key)
	return nil
}

func (s *fileStore) PruneSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := pruneRows(s.sessions, now)
	if n == 0 {
		return 0, nil
	}
	return n, s.compactLocked()
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return errors.New("session journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes >= compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("session compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked rewrites the snapshot and truncates the journal.
func (s *fileStore) compactLocked() error {
	pruneRows(s.sessions, time.Now())
	if err := writeJSONAtomic(s.snapshotPath, s.sessions); err != nil {
		return err
	}
	s.writes = 0
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) SaveBacklog(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) == 0 {
		if err := os.Remove(s.backlogPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeFileAtomic(s.backlogPath, data)
}

func (s *fileStore) LoadBacklog(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.backlogPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadSnapshot(path string, out map[string]sessionRow) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]sessionRow
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]sessionRow) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		// a torn final line after a crash is skipped
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		if r.Del {
			delete(out, r.Key)
			continue
		}
		out[r.Key] = sessionRow{ID: r.ID, Expires: r.Expires}
	}
	return sc.Err()
}

func pruneRows(m map[string]sessionRow, now time.Time) int {
	cut := now.UnixMilli()
	n := 0
	for k, v := range m {
		if v.Expires < cut {
			delete(m, k)
			n++
		}
	}
	return n
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openDriver(t *testing.T, driver string) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "relay.db")}
	st, err := Open(cfg, nopLogger())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	return st, cfg
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, nopLogger())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, nopLogger()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, nopLogger()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, cfg := openDriver(t, driver)

			now := time.Now()
			if err := st.PutSession(ctx, "1:10", "sess-a", now.Add(time.Hour)); err != nil {
				t.Fatalf("PutSession: %v", err)
			}
			if err := st.PutSession(ctx, "1:11", "sess-old", now.Add(-time.Minute)); err != nil {
				t.Fatalf("PutSession: %v", err)
			}
			if id, ok, err := st.GetSession(ctx, "1:10"); err != nil || !ok || id != "sess-a" {
				t.Fatalf("GetSession = %q, %v, %v", id, ok, err)
			}
			if _, ok, _ := st.GetSession(ctx, "1:11"); ok {
				t.Fatal("expired session returned")
			}
			if n, err := st.PruneSessions(ctx, now); err != nil || n != 1 {
				t.Fatalf("PruneSessions = %d, %v; want 1", n, err)
			}

			if err := st.SaveBacklog(ctx, []byte(`[{"author":"a"}]`)); err != nil {
				t.Fatalf("SaveBacklog: %v", err)
			}
			if err := st.AppendExchange(ctx, Exchange{ChatID: 1, MessageID: 10, InChars: 3, OutChars: 5}); err != nil {
				t.Fatalf("AppendExchange: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// state survives a reopen
			st, err := Open(cfg, nopLogger())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			if id, ok, err := st.GetSession(ctx, "1:10"); err != nil || !ok || id != "sess-a" {
				t.Fatalf("GetSession after reopen = %q, %v, %v", id, ok, err)
			}
			b, err := st.LoadBacklog(ctx)
			if err != nil || string(b) != `[{"author":"a"}]` {
				t.Fatalf("LoadBacklog = %q, %v", b, err)
			}

			if err := st.DeleteSession(ctx, "1:10"); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}
			if _, ok, _ := st.GetSession(ctx, "1:10"); ok {
				t.Fatal("deleted session returned")
			}
			if err := st.SaveBacklog(ctx, nil); err != nil {
				t.Fatalf("clear backlog: %v", err)
			}
			if b, err := st.LoadBacklog(ctx); err != nil || len(b) != 0 {
				t.Fatalf("LoadBacklog after clear = %q, %v", b, err)
			}
		})
	}
}

func TestFileStoreJournalReplay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	prefix := filepath.Join(dir, "relay")
	journal := strings.Join([]string{
		`{"key":"1:1","id":"a","expires":` + farFuture() + `}`,
		`{"key":"1:2","id":"b","expires":` + farFuture() + `}`,
		`{"key":"1:1","del":true}`,
		`{"key":"1:3","id":"c"`, // torn write
	}, "\n")
	if err := os.WriteFile(prefix+".sessions.journal.jsonl", []byte(journal), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: prefix + ".db"}, nopLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, ok, _ := st.GetSession(ctx, "1:1"); ok {
		t.Fatal("deleted key replayed")
	}
	if id, ok, _ := st.GetSession(ctx, "1:2"); !ok || id != "b" {
		t.Fatalf("GetSession(1:2) = %q, %v", id, ok)
	}
}

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/goleak"

	"relaybot/internal/ai"
	"relaybot/internal/eventbus"
	"relaybot/internal/memory"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingResponder struct {
	mu    sync.Mutex
	reqs  []ai.Request
	reply ai.Reply
	err   error
}

func (r *recordingResponder) Respond(ctx context.Context, req ai.Request) (ai.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.reply, r.err
}

func (r *recordingResponder) requests() []ai.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ai.Request(nil), r.reqs...)
}

type uploads struct {
	mu    sync.Mutex
	texts []string
}

func (u *uploads) Upload(ctx context.Context, text string, at time.Time) error {
	u.mu.Lock()
	u.texts = append(u.texts, text)
	u.mu.Unlock()
	return nil
}

func groupMessage(id int, text string) *kit.Message {
	return &kit.Message{
		ID: id, ChatID: -100, ChatTitle: "Ham Shack", IsGroup: true,
		FromID: 7, FromUsername: "alice", FromName: "Alice",
		Text: text, Date: time.Date(2024, 1, 2, 20, 4, 5, 0, time.UTC),
	}
}

type fixture struct {
	adapter  *fakeAdapter
	resp     *recordingResponder
	sessions *session.Map
	recorder *memory.Recorder
	sink     *uploads
	handler  *Handler
	bus      eventbus.Bus
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		adapter:  newFakeAdapter(),
		resp:     &recordingResponder{reply: ai.Reply{Text: "pong", Score: 0.5, HasScore: true, SessionID: "s-1"}},
		sessions: session.New(session.Config{}, nil, logx.Nop()),
		sink:     &uploads{},
		bus:      eventbus.New(),
	}
	f.recorder = memory.NewRecorder(memory.Config{Enabled: true, ScoreTrigger: true, ScoreThreshold: 1}, f.sink, nil, f.bus, logx.Nop())
	if opts.Prompt.Location == nil {
		opts.Prompt.Location = time.UTC
	}
	f.handler = NewHandler(Deps{
		Adapter:   f.adapter,
		Responder: f.resp,
		Sessions:  f.sessions,
		Recorder:  f.recorder,
		Bus:       f.bus,
		Log:       logx.Nop(),
	}, opts)
	return f
}

func TestHandleRepliesAndRemembersSession(t *testing.T) {
	f := newFixture(t, Options{ShowScore: true, ReplyToMessage: true})
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	if err := f.handler.Handle(context.Background(), groupMessage(1, "  ping  ")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	got := f.adapter.messages()
	want := []sent{{To: kit.ChatTarget{ChatID: -100}, Text: "pong\nAI Score: 0.5", Opt: kit.SendOptions{ReplyTo: 1}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
	if reqs := f.resp.requests(); len(reqs) != 1 || reqs[0].Text != "ping" || reqs[0].SessionID != "" {
		t.Fatalf("unexpected AI requests: %+v", reqs)
	}
	if f.adapter.typing != 1 {
		t.Fatalf("typing = %d, want 1", f.adapter.typing)
	}

	// replying to the bot's message continues the session
	next := groupMessage(2, "and again")
	next.ReplyToID = 1001
	next.ReplyToSelf = true
	_ = f.handler.Handle(context.Background(), next)
	if reqs := f.resp.requests(); reqs[1].SessionID != "s-1" {
		t.Fatalf("SessionID = %q, want s-1", reqs[1].SessionID)
	}

	if st := f.recorder.Stats(); st.Entries != 2 {
		t.Fatalf("memory entries = %d, want 2", st.Entries)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeReplied {
			t.Fatalf("event = %s", ev.Type)
		}
	default:
		t.Fatal("no relay.replied event")
	}
}

func TestReplyToAnyChunkContinuesSession(t *testing.T) {
	f := newFixture(t, Options{})
	f.adapter.parts = 3

	_ = f.handler.Handle(context.Background(), groupMessage(1, "long answer please"))
	if n := f.sessions.Len(); n != 3 {
		t.Fatalf("sessions = %d, want one per chunk", n)
	}

	// 1001..1003 are the chunks of the first reply
	next := groupMessage(2, "about that last part")
	next.ReplyToID = 1003
	next.ReplyToSelf = true
	_ = f.handler.Handle(context.Background(), next)
	if reqs := f.resp.requests(); len(reqs) != 2 || reqs[1].SessionID != "s-1" {
		t.Fatalf("reply to last chunk lost the session: %+v", reqs)
	}
}

func TestHandleIncludesMetadata(t *testing.T) {
	f := newFixture(t, Options{Prompt: ai.PromptConfig{AIName: "Pal", IncludeMetadata: true, Location: time.UTC}})
	_ = f.handler.Handle(context.Background(), groupMessage(1, "hi"))
	reqs := f.resp.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if want := "2024-01-02 20:04:05 (UTC time) Alice>>>: hi"; reqs[0].Text != want {
		t.Fatalf("Text = %q, want %q", reqs[0].Text, want)
	}
	if !strings.Contains(reqs[0].Context, "Pal, you are in the chat 'Ham Shack'") {
		t.Fatalf("Context = %q", reqs[0].Context)
	}
}

func TestHandleIgnores(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		msg  func() *kit.Message
	}{
		{name: "own message", msg: func() *kit.Message { m := groupMessage(1, "hi"); m.FromID = 999; return m }},
		{name: "whitespace", msg: func() *kit.Message { return groupMessage(1, " \n\t ") }},
		{name: "not allowed", opts: Options{AllowedChats: []int64{42}}, msg: func() *kit.Message { return groupMessage(1, "hi") }},
		{name: "mention mode", opts: Options{GroupMode: "mention"}, msg: func() *kit.Message { return groupMessage(1, "hi") }},
		{name: "other bot command", msg: func() *kit.Message { return groupMessage(1, "/status@other_bot") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			_ = f.handler.Handle(context.Background(), tt.msg())
			if tt.name == "other bot command" {
				// relayed as text rather than answered locally
				if len(f.resp.requests()) != 1 {
					t.Fatal("command for another bot should be relayed as text")
				}
				return
			}
			if n := len(f.resp.requests()); n != 0 {
				t.Fatalf("AI called %d times", n)
			}
			if n := len(f.adapter.messages()); n != 0 {
				t.Fatalf("sent %d messages", n)
			}
		})
	}
}

func TestHandleMentionModeAllowsMentionsAndReplies(t *testing.T) {
	f := newFixture(t, Options{GroupMode: "mention"})
	m := groupMessage(1, "@relay_bot hi")
	m.Mentioned = true
	_ = f.handler.Handle(context.Background(), m)
	r := groupMessage(2, "follow up")
	r.ReplyToID, r.ReplyToSelf = 1001, true
	_ = f.handler.Handle(context.Background(), r)
	if n := len(f.resp.requests()); n != 2 {
		t.Fatalf("AI called %d times, want 2", n)
	}
}

func TestHandleSendsFallbackOnError(t *testing.T) {
	f := newFixture(t, Options{})
	f.resp.err = errors.New("gave up after 5 attempts: boom")
	if err := f.handler.Handle(context.Background(), groupMessage(1, "hi")); err == nil {
		t.Fatal("expected error")
	}
	got := f.adapter.messages()
	if len(got) != 1 || got[0].Text != DefaultFallbackText {
		t.Fatalf("sent = %+v, want fallback", got)
	}
	if f.recorder.Stats().Entries != 0 {
		t.Fatal("failed exchange recorded to memory")
	}
}

func TestHandleEmptyReplySendsNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.resp.err = ai.ErrEmptyReply
	if err := f.handler.Handle(context.Background(), groupMessage(1, "hi")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if n := len(f.adapter.messages()); n != 0 {
		t.Fatalf("sent %d messages, want 0", n)
	}
}

func TestHandleScoreTriggersMemoryFlush(t *testing.T) {
	f := newFixture(t, Options{})
	f.resp.reply = ai.Reply{Text: "deep", Score: 2, HasScore: true}
	_ = f.handler.Handle(context.Background(), groupMessage(1, "meaning of life"))
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.texts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(f.sink.texts))
	}
	want := "User Alice said: meaning of life\nBot responded: deep, AI Score: 2\n"
	if f.sink.texts[0] != want {
		t.Fatalf("upload = %q, want %q", f.sink.texts[0], want)
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t, Options{Owners: []int64{1}})
	ctx := context.Background()

	_ = f.handler.Handle(ctx, groupMessage(1, "hello"))
	_ = f.handler.Handle(ctx, groupMessage(2, "/flush"))
	_ = f.handler.Handle(ctx, groupMessage(3, "/status@relay_bot"))

	forget := groupMessage(4, "/forget")
	forget.ReplyToID = 1001
	_ = f.handler.Handle(ctx, forget)

	got := f.adapter.messages()
	if len(got) != 4 {
		t.Fatalf("sent %d messages: %+v", len(got), got)
	}
	if got[1].Text != "unauthorized" {
		t.Fatalf("/flush by non-owner = %q", got[1].Text)
	}
	if !strings.Contains(got[2].Text, "messages: 3 handled, 1 replied") {
		t.Fatalf("/status = %q", got[2].Text)
	}
	if got[3].Text != "conversation forgotten" {
		t.Fatalf("/forget = %q", got[3].Text)
	}
	if len(f.resp.requests()) != 1 {
		t.Fatal("commands reached the AI")
	}
}

func TestStatusReportsTasksAndSchedules(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	sup := rtsup.New(ctx)
	started := make(chan struct{})
	sup.Go0("relay.dispatch", func(c context.Context) {
		close(started)
		<-c.Done()
	})
	<-started
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = sup.Stop(stopCtx)
	}()

	next := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	f.handler.d.Tasks = sup.Snapshot
	f.handler.d.Schedules = func() scheduler.Snapshot {
		return scheduler.Snapshot{Running: true, Schedules: []scheduler.ScheduleInfo{
			{Name: "memory.flush", Runs: 3, Failures: 1, Next: next, LastErr: "memory upload: status 503"},
		}}
	}

	_ = f.handler.Handle(ctx, groupMessage(1, "/status"))
	got := f.adapter.messages()
	if len(got) != 1 {
		t.Fatalf("sent %d messages", len(got))
	}
	for _, want := range []string{
		"job memory.flush: 3 runs, 1 failed, next 9:00PM (last error: memory upload: status 503)",
		"tasks: relay.dispatch=1",
	} {
		if !strings.Contains(got[0].Text, want) {
			t.Fatalf("/status = %q, missing %q", got[0].Text, want)
		}
	}
}

func TestOwnerFlushUploads(t *testing.T) {
	f := newFixture(t, Options{Owners: []int64{7}})
	ctx := context.Background()
	_ = f.handler.Handle(ctx, groupMessage(1, "hello"))
	_ = f.handler.Handle(ctx, groupMessage(2, "/flush"))
	got := f.adapter.messages()
	if last := got[len(got)-1].Text; !strings.HasPrefix(last, "flushed 1 entries") {
		t.Fatalf("/flush reply = %q", last)
	}
	if len(f.sink.texts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(f.sink.texts))
	}
}

func TestHandleWritesExchangeAudit(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, Options{})
	f.handler.d.Store = st
	_ = f.handler.Handle(context.Background(), groupMessage(1, "hi"))
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "relay.exchanges.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"message_id":1`) || !strings.Contains(string(b), `"session_id":"s-1"`) {
		t.Fatalf("unexpected audit: %s", b)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text, name, args string
		ok               bool
	}{
		{text: "/status", name: "status", ok: true},
		{text: "/Flush now", name: "flush", args: "now", ok: true},
		{text: "/status@Relay_Bot", name: "status", ok: true},
		{text: "/status@other", ok: false},
		{text: "/flush\tnow", name: "flush", args: "now", ok: true},
		{text: "/flush\nnow please", name: "flush", args: "now please", ok: true},
		{text: "/status@relay_bot\u00a0x", name: "status", args: "x", ok: true},
		{text: "/forget ", name: "forget", ok: true},
		{text: "hello", ok: false},
		{text: "/", ok: false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text, "relay_bot")
		if ok != tt.ok || name != tt.name || args != tt.args {
			t.Fatalf("parseCommand(%q) = %q, %q, %v", tt.text, name, args, ok)
		}
	}
}

func TestHandleTagsLogsWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, Options{})
	f.handler.d.Log = logx.NewWriter(&buf, "debug")

	_ = f.handler.Handle(context.Background(), groupMessage(1, "hi"))

	var seen string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		rid, _ := m["rid"].(string)
		if rid == "" {
			continue
		}
		if seen != "" && rid != seen {
			t.Fatalf("request logged under two ids: %q, %q", seen, rid)
		}
		seen = rid
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("rid %q is not a uuid: %v", seen, err)
	}
}

func TestFormatReply(t *testing.T) {
	r := ai.Reply{Text: "hi", Score: 1, HasScore: true}
	if got := FormatReply(r, true); got != "hi\nAI Score: 1" {
		t.Fatalf("FormatReply = %q", got)
	}
	if got := FormatReply(r, false); got != "hi" {
		t.Fatalf("FormatReply = %q", got)
	}
	if got := FormatReply(ai.Reply{Text: "hi"}, true); got != "hi" {
		t.Fatalf("FormatReply without score = %q", got)
	}
}

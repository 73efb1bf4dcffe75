package relay

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

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

// Deps are the components a Handler drives. Recorder, Store and Bus may be nil.
type Deps struct {
	Adapter   kit.Adapter
	Responder ai.Responder
	Sessions  *session.Map
	Recorder  *memory.Recorder
	Store     storage.Store
	Bus       eventbus.Bus
	Log       logx.Logger
	// AIStats feeds /status when the responder is wrapped by ai.Resilient.
	AIStats func() ai.Stats
	// Tasks and Schedules feed the supervised goroutine and cron job lines of /status.
	Tasks     func() []rtsup.TaskStats
	Schedules func() scheduler.Snapshot
}

// RepliedEvent is the Data of relay.replied and relay.failed events.
type RepliedEvent struct {
	ChatID    int64
	MessageID int
	ReplyID   int
	Author    string
	SessionID string
	Score     float64
	HasScore  bool
	Took      time.Duration
	Err       string
}

type optionsSnapshot struct {
	Options
	prompter *ai.Prompter
}

// Handler runs the per-message pipeline.
type Handler struct {
	d     Deps
	opts  atomic.Pointer[optionsSnapshot]
	start time.Time

	handled   atomic.Uint64
	replied   atomic.Uint64
	fallbacks atomic.Uint64
	ignored   atomic.Uint64
}

func NewHandler(d Deps, opts Options) *Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &Handler{d: d, start: time.Now()}
	h.Apply(opts)
	return h
}

// Apply swaps the relay options; in-flight messages keep the old ones.
func (h *Handler) Apply(opts Options) {
	opts = opts.normalized()
	h.opts.Store(&optionsSnapshot{Options: opts, prompter: ai.NewPrompter(opts.Prompt)})
}

func (h *Handler) Options() *optionsSnapshot { return h.opts.Load() }

// Handle runs msg through the middleware chain.
func (h *Handler) Handle(ctx context.Context, msg *kit.Message) error {
	if msg == nil {
		return nil
	}
	opts := h.Options()
	rid := uuid.NewString()
	req := &Request{
		Message: msg,
		Text:    strings.TrimSpace(msg.Text),
		ReqID:   rid,
		Log: h.d.Log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.Int("message_id", msg.ID),
		),
	}
	h.handled.Add(1)
	final := Chain(h.serve, MWPanicRecover(), MWRequestLog(), MWTimeout(opts.Timeout))
	return final(ctx, req)
}

func (h *Handler) serve(ctx context.Context, req *Request) error {
	opts := h.Options()
	msg := req.Message
	self := h.d.Adapter.Self()

	if self.ID != 0 && msg.FromID == self.ID {
		h.ignored.Add(1)
		req.ignore("own message")
		return nil
	}
	if len(opts.AllowedChats) > 0 && !containsID(opts.AllowedChats, msg.ChatID) {
		h.ignored.Add(1)
		req.ignore("chat not allowed")
		return nil
	}
	if req.Text == "" {
		h.ignored.Add(1)
		req.ignore("message content is empty after stripping")
		return nil
	}
	if name, args, ok := parseCommand(req.Text, self.Username); ok {
		if cmd, found := h.command(name); found {
			req.Outcome = OutcomeCommand
			req.Note = name
			return cmd(ctx, req, args)
		}
	}
	if msg.IsGroup && opts.GroupMode == GroupModeMention && !msg.Mentioned && !msg.ReplyToSelf {
		h.ignored.Add(1)
		req.ignore("not addressed to bot")
		return nil
	}
	return h.relay(ctx, req, opts)
}

// relay is the AI round trip for one message.
func (h *Handler) relay(ctx context.Context, req *Request, opts *optionsSnapshot) error {
	msg := req.Message
	start := time.Now()

	sessionID := ""
	if msg.ReplyToID != 0 && h.d.Sessions != nil {
		sessionID = h.d.Sessions.Get(ctx, msg.ChatID, msg.ReplyToID)
	}

	if err := h.d.Adapter.Typing(ctx, msg.Target()); err != nil {
		req.Log.Debug("typing indicator failed", logx.Err(err))
	}

	at := msg.Date
	if at.IsZero() {
		at = start
	}
	aiReq := opts.prompter.Build(msg.Author(), req.Text, msg.ChatTitle, sessionID, at)
	reply, err := h.d.Responder.Respond(ctx, aiReq)
	if errors.Is(err, ai.ErrEmptyReply) {
		req.Outcome = OutcomeEmpty
		req.Log.Info("AI response is empty")
		return nil
	}
	if err != nil {
		h.fallbacks.Add(1)
		req.Outcome = OutcomeFallback
		h.sendFallback(ctx, req, opts)
		h.publish(eventbus.TypeFailed, RepliedEvent{
			ChatID: msg.ChatID, MessageID: msg.ID, Author: msg.Author(),
			SessionID: sessionID, Took: time.Since(start), Err: err.Error(),
		})
		h.audit(ctx, req, storage.Exchange{SessionID: sessionID, Error: err.Error(), TookMS: time.Since(start).Milliseconds()})
		return err
	}

	var so *kit.SendOptions
	if opts.ReplyToMessage {
		so = &kit.SendOptions{ReplyTo: msg.ID}
	}
	ref, err := h.d.Adapter.SendText(ctx, msg.Target(), FormatReply(reply, opts.ShowScore), so)
	if err != nil {
		return err
	}
	h.replied.Add(1)
	req.Outcome = OutcomeReplied

	nextSession := reply.SessionID
	if nextSession == "" {
		nextSession = sessionID
	}
	if h.d.Sessions != nil {
		for _, id := range ref.IDs() {
			h.d.Sessions.Put(ctx, msg.ChatID, id, nextSession)
		}
	}

	if h.d.Recorder != nil {
		_, ferr := h.d.Recorder.Record(ctx, memory.Entry{
			Author:    msg.Author(),
			Content:   req.Text,
			Reply:     reply.Text,
			Score:     reply.Score,
			HasScore:  reply.HasScore,
			ChatID:    msg.ChatID,
			ChatTitle: msg.ChatTitle,
			ThreadID:  msg.ThreadID,
			At:        at,
		})
		if ferr != nil {
			req.Log.Warn("memory flush failed", logx.Err(ferr))
		}
	}

	took := time.Since(start)
	h.publish(eventbus.TypeReplied, RepliedEvent{
		ChatID: msg.ChatID, MessageID: msg.ID, ReplyID: ref.MessageID, Author: msg.Author(),
		SessionID: nextSession, Score: reply.Score, HasScore: reply.HasScore, Took: took,
	})
	h.audit(ctx, req, storage.Exchange{
		ReplyID:   ref.MessageID,
		SessionID: nextSession,
		Score:     reply.Score,
		HasScore:  reply.HasScore,
		OutChars:  utf8.RuneCountInString(reply.Text),
		TookMS:    took.Milliseconds(),
	})
	return nil
}

func (h *Handler) sendFallback(ctx context.Context, req *Request, opts *optionsSnapshot) {
	// the request context may already be done; the user still gets an answer
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	var so *kit.SendOptions
	if opts.ReplyToMessage {
		so = &kit.SendOptions{ReplyTo: req.Message.ID}
	}
	if _, err := h.d.Adapter.SendText(sctx, req.Message.Target(), opts.FallbackText, so); err != nil {
		req.Log.Warn("fallback send failed", logx.Err(err))
	}
}

func (h *Handler) publish(typ string, ev RepliedEvent) {
	if h.d.Bus == nil {
		return
	}
	h.d.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (h *Handler) audit(ctx context.Context, req *Request, e storage.Exchange) {
	if h.d.Store == nil {
		return
	}
	msg := req.Message
	e.At = time.Now()
	e.ChatID = msg.ChatID
	e.ThreadID = msg.ThreadID
	e.MessageID = msg.ID
	e.UserID = msg.FromID
	e.Username = msg.FromUsername
	e.InChars = utf8.RuneCountInString(req.Text)
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.d.Store.AppendExchange(actx, e); err != nil && !errors.Is(err, storage.ErrDisabled) {
		req.Log.Debug("exchange audit failed", logx.Err(err))
	}
}

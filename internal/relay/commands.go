package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/memory"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/task/scheduler"
	kit "relaybot/internal/transport"
)

type commandFunc func(ctx context.Context, req *Request, args string) error

func (h *Handler) command(name string) (commandFunc, bool) {
	switch name {
	case "status":
		return h.cmdStatus, true
	case "flush":
		return h.ownerOnly(h.cmdFlush), true
	case "forget":
		return h.cmdForget, true
	case "help":
		return h.cmdHelp, true
	}
	return nil, false
}

func (h *Handler) ownerOnly(next commandFunc) commandFunc {
	return func(ctx context.Context, req *Request, args string) error {
		if !containsID(h.Options().Owners, req.Message.FromID) {
			return h.say(ctx, req, "unauthorized")
		}
		return next(ctx, req, args)
	}
}

func (h *Handler) say(ctx context.Context, req *Request, text string) error {
	_, err := h.d.Adapter.SendText(ctx, req.Message.Target(), text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (h *Handler) cmdHelp(ctx context.Context, req *Request, _ string) error {
	return h.say(ctx, req, strings.Join([]string{
		"Messages are relayed to the AI and answered here.",
		"/status - relay and memory counters",
		"/forget - reply to one of my messages to start a fresh conversation",
		"/flush - upload the conversation log now (owners only)",
	}, "\n"))
}

func (h *Handler) cmdStatus(ctx context.Context, req *Request, _ string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s\n", time.Since(h.start).Truncate(time.Second))
	fmt.Fprintf(&b, "messages: %d handled, %d replied, %d fallback, %d ignored\n",
		h.handled.Load(), h.replied.Load(), h.fallbacks.Load(), h.ignored.Load())
	if h.d.AIStats != nil {
		st := h.d.AIStats()
		fmt.Fprintf(&b, "ai: %d calls, %d failed, %d retries", st.Calls, st.Failures, st.Retries)
		if st.Breaker.Open {
			fmt.Fprintf(&b, ", breaker open until %s", st.Breaker.OpenUntil.Format(time.Kitchen))
		}
		b.WriteByte('\n')
	}
	if h.d.Sessions != nil {
		fmt.Fprintf(&b, "sessions: %d\n", h.d.Sessions.Len())
	}
	if h.d.Recorder != nil {
		st := h.d.Recorder.Stats()
		if !st.Enabled {
			b.WriteString("memory: disabled\n")
		} else {
			fmt.Fprintf(&b, "memory: %d entries, %d/%d chars, %d flushes, %d failed",
				st.Entries, st.Chars, st.MaxChars, st.Flushes, st.Failures)
			if st.LastErr != "" {
				fmt.Fprintf(&b, " (last error: %s)", st.LastErr)
			}
			b.WriteByte('\n')
		}
	}
	if h.d.Schedules != nil {
		writeSchedules(&b, h.d.Schedules())
	}
	if h.d.Tasks != nil {
		writeTasks(&b, h.d.Tasks())
	}
	return h.say(ctx, req, strings.TrimRight(b.String(), "\n"))
}

func writeSchedules(b *strings.Builder, snap scheduler.Snapshot) {
	for _, sc := range snap.Schedules {
		fmt.Fprintf(b, "job %s: %d runs, %d failed", sc.Name, sc.Runs, sc.Failures)
		if !sc.Prev.IsZero() {
			fmt.Fprintf(b, ", last %s", sc.Prev.Format(time.Kitchen))
		}
		if !sc.Next.IsZero() {
			fmt.Fprintf(b, ", next %s", sc.Next.Format(time.Kitchen))
		}
		if sc.LastErr != "" {
			fmt.Fprintf(b, " (last error: %s)", sc.LastErr)
		}
		b.WriteByte('\n')
	}
}

func writeTasks(b *strings.Builder, tasks []rtsup.TaskStats) {
	if len(tasks) == 0 {
		return
	}
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		p := fmt.Sprintf("%s=%d", t.Name, t.Active)
		if t.Restarts > 0 || t.Panics > 0 {
			p += fmt.Sprintf(" (%d restarts, %d panics)", t.Restarts, t.Panics)
		}
		parts = append(parts, p)
	}
	fmt.Fprintf(b, "tasks: %s\n", strings.Join(parts, ", "))
}

func (h *Handler) cmdFlush(ctx context.Context, req *Request, _ string) error {
	if h.d.Recorder == nil {
		return h.say(ctx, req, "memory is disabled")
	}
	ev, err := h.d.Recorder.Flush(ctx, "command")
	switch {
	case errors.Is(err, memory.ErrNothingToFlush):
		return h.say(ctx, req, "nothing to flush")
	case err != nil:
		_ = h.say(ctx, req, "flush failed; entries kept for retry")
		return err
	}
	return h.say(ctx, req, fmt.Sprintf("flushed %d entries (%d chars)", ev.Entries, ev.Chars))
}

func (h *Handler) cmdForget(ctx context.Context, req *Request, _ string) error {
	msg := req.Message
	if msg.ReplyToID == 0 || h.d.Sessions == nil {
		return h.say(ctx, req, "reply to one of my messages with /forget")
	}
	if !h.d.Sessions.Forget(ctx, msg.ChatID, msg.ReplyToID) {
		return h.say(ctx, req, "no conversation attached to that message")
	}
	return h.say(ctx, req, "conversation forgotten")
}

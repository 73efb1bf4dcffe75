package logx

import (
	"context"
	"strings"
	"testing"
	"time"

	kit "relaybot/internal/transport"
)

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 700)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "json with sorted fields",
			in:   `{"level":"error","time":"2024-01-02T20:04:05Z","message":"upload failed","err":"status 503","comp":"memory"}` + "\n",
			want: "[ERROR] upload failed\n- comp=memory\n- err=status 503",
		},
		{
			name: "numbers print plainly",
			in:   `{"level":"warn","message":"dropped","count":3}`,
			want: "[WARN] dropped\n- count=3",
		},
		{
			name: "no level",
			in:   `{"message":"hello"}`,
			want: "hello",
		},
		{
			name: "field values are truncated",
			in:   `{"level":"warn","message":"m","body":"` + long + `"}`,
			want: "[WARN] m\n- body=" + long[:597] + "...",
		},
		{
			name: "non json is trimmed",
			in:   "  plain text \n",
			want: "plain text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatChatLine([]byte(tt.in)); got != tt.want {
				t.Fatalf("formatChatLine = %q, want %q", got, tt.want)
			}
		})
	}
}

type captureSender struct{ ch chan string }

func (c *captureSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.ch <- text
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestChatSinkFiltersByLevelAndRate(t *testing.T) {
	sender := &captureSender{ch: make(chan string, 8)}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 1},
	}, sender)
	defer svc.Close()

	log.Info("below the chat level")
	log.With(String("comp", "memory")).Warn("disk low", Int("free_mb", 3))
	log.Error("rate limited away")

	select {
	case got := <-sender.ch:
		if !strings.HasPrefix(got, "[WARN] disk low\n- caller=chat_sink_test.go:") ||
			!strings.HasSuffix(got, "\n- comp=memory\n- free_mb=3") {
			t.Fatalf("chat line = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("warn line never reached the chat")
	}
	select {
	case got := <-sender.ch:
		t.Fatalf("unexpected extra chat line %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChatSinkNeedsChatID(t *testing.T) {
	sender := &captureSender{ch: make(chan string, 1)}
	svc, log := New(Config{Chat: ChatConfig{Enabled: true, MinLevel: "warn"}}, sender)
	defer svc.Close()

	log.Error("nowhere to go")
	select {
	case got := <-sender.ch:
		t.Fatalf("sent %q without a chat id", got)
	case <-time.After(100 * time.Millisecond):
	}
}

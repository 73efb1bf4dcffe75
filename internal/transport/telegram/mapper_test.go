package telegram

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
)

var botSelf = kit.Identity{ID: 999, Username: "Relay_Bot"}

func TestToMessage(t *testing.T) {
	t.Parallel()
	date := time.Date(2024, 1, 2, 20, 4, 5, 0, time.UTC)
	m := &tele.Message{
		ID:       10,
		ThreadID: 3,
		Unixtime: date.Unix(),
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "Ham Shack"},
		Sender:   &tele.User{ID: 7, Username: "alice", FirstName: " Alice ", LastName: "Smith"},
		Text:     "hello",
		ReplyTo:  &tele.Message{ID: 9, Sender: &tele.User{ID: 999, IsBot: true}},
	}
	got := toMessage(m, botSelf)
	want := &kit.Message{
		ID: 10, ChatID: -100, ThreadID: 3, ChatTitle: "Ham Shack", IsGroup: true,
		FromID: 7, FromUsername: "alice", FromName: "Alice Smith",
		Text: "hello", Date: date,
		ReplyToID: 9, ReplyToSelf: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("toMessage (-want +got):\n%s", diff)
	}
}

func TestToMessageShapes(t *testing.T) {
	t.Parallel()
	user := &tele.User{ID: 7, Username: "alice"}
	tests := []struct {
		name        string
		msg         *tele.Message
		nilOut      bool
		group       bool
		replyToSelf bool
		fromName    string
	}{
		{name: "nil", msg: nil, nilOut: true},
		{name: "no sender", msg: &tele.Message{Chat: &tele.Chat{ID: 1}}, nilOut: true},
		{name: "no chat", msg: &tele.Message{Sender: user}, nilOut: true},
		{name: "private chat", msg: &tele.Message{Chat: &tele.Chat{ID: 7, Type: tele.ChatPrivate}, Sender: user}, fromName: "alice"},
		{name: "basic group", msg: &tele.Message{Chat: &tele.Chat{ID: -5, Type: tele.ChatGroup}, Sender: user}, group: true, fromName: "alice"},
		{
			name: "reply to someone else",
			msg: &tele.Message{
				Chat: &tele.Chat{ID: -5, Type: tele.ChatGroup}, Sender: user,
				ReplyTo: &tele.Message{ID: 4, Sender: &tele.User{ID: 8}},
			},
			group: true, fromName: "alice",
		},
		{
			name: "reply without sender",
			msg: &tele.Message{
				Chat: &tele.Chat{ID: -5, Type: tele.ChatGroup}, Sender: user,
				ReplyTo: &tele.Message{ID: 4},
			},
			group: true, fromName: "alice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toMessage(tt.msg, botSelf)
			if tt.nilOut {
				if got != nil {
					t.Fatalf("toMessage = %+v, want nil", got)
				}
				return
			}
			if got.IsGroup != tt.group || got.ReplyToSelf != tt.replyToSelf || got.FromName != tt.fromName {
				t.Fatalf("toMessage = %+v", got)
			}
		})
	}
}

func TestMentions(t *testing.T) {
	t.Parallel()
	mention := func(text string, off, n int) *tele.Message {
		return &tele.Message{Text: text, Entities: []tele.MessageEntity{{Type: tele.EntityMention, Offset: off, Length: n}}}
	}
	tests := []struct {
		name     string
		msg      *tele.Message
		username string
		want     bool
	}{
		{name: "entity", msg: mention("hi @relay_bot", 3, 10), username: "Relay_Bot", want: true},
		{name: "entity after emoji", msg: mention("👋 @RELAY_BOT hi", 3, 10), username: "relay_bot", want: true},
		{name: "entity for another bot", msg: mention("hi @other_bot", 3, 10), username: "relay_bot"},
		{name: "plain text", msg: &tele.Message{Text: "ask @relay_bot about it"}, username: "relay_bot", want: true},
		{name: "plain text at end", msg: &tele.Message{Text: "ask @Relay_Bot"}, username: "relay_bot", want: true},
		{name: "longer username", msg: &tele.Message{Text: "ping @relay_bot_fan"}, username: "relay_bot"},
		{name: "longer then exact", msg: &tele.Message{Text: "@relay_bots and @relay_bot"}, username: "relay_bot", want: true},
		{name: "no username", msg: &tele.Message{Text: "@relay_bot"}, username: ""},
		{name: "not mentioned", msg: &tele.Message{Text: "hello everyone"}, username: "relay_bot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mentions(tt.msg, tt.username); got != tt.want {
				t.Fatalf("mentions(%q, %q) = %v, want %v", tt.msg.Text, tt.username, got, tt.want)
			}
		})
	}
}

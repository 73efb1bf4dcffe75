package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
)

// toMessage converts a telebot message into the transport shape.
// It returns nil for messages without a sender or chat.
func toMessage(m *tele.Message, self kit.Identity) *kit.Message {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		ChatTitle:    m.Chat.Title,
		IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromName:     displayName(m.Sender),
		FromBot:      m.Sender.IsBot,
		Text:         m.Text,
		Date:         m.Time(),
	}
	if m.ReplyTo != nil {
		out.ReplyToID = m.ReplyTo.ID
		out.ReplyToSelf = m.ReplyTo.Sender != nil && self.ID != 0 && m.ReplyTo.Sender.ID == self.ID
	}
	out.Mentioned = mentions(m, self.Username)
	return out
}

func mentions(m *tele.Message, username string) bool {
	if username == "" {
		return false
	}
	handle := "@" + strings.ToLower(username)
	for _, e := range m.Entities {
		if e.Type != tele.EntityMention {
			continue
		}
		if strings.ToLower(m.EntityText(e)) == handle {
			return true
		}
	}
	return containsHandle(strings.ToLower(m.Text), handle)
}

// containsHandle finds handle in text as a whole username, so "@bot" does not
// match "@bot_fan".
func containsHandle(text, handle string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], handle)
		if j < 0 {
			return false
		}
		end := i + j + len(handle)
		if end == len(text) || !isUsernameByte(text[end]) {
			return true
		}
		i = end
	}
}

func isUsernameByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')
}

func displayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}

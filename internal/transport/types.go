// Package transport defines the chat-service boundary: inbound updates and
// the outbound operations the relay needs.
package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID        int
	ChatID    int64
	ThreadID  int // forum topic thread id (0 if none)
	ChatTitle string
	IsGroup   bool

	FromID       int64
	FromUsername string
	FromName     string // display name; falls back to username
	FromBot      bool

	Text string
	// ReplyToID is the id of the message this one replies to (0 if none).
	ReplyToID int
	// ReplyToSelf reports whether ReplyToID is one of the bot's own messages.
	ReplyToSelf bool
	// Mentioned reports whether the bot was @-mentioned in Text.
	Mentioned bool
	Date      time.Time
}

// Author returns the best human-readable name for the sender.
func (m *Message) Author() string {
	if m == nil {
		return ""
	}
	if m.FromName != "" {
		return m.FromName
	}
	if m.FromUsername != "" {
		return m.FromUsername
	}
	return "unknown"
}

// Target returns where a reply to m should go.
func (m *Message) Target() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef points at a sent message. MessageID is the first chunk; Parts
// lists every chunk when a long text was split.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
	Parts     []int
}

// IDs returns the id of every message the send produced.
func (r MessageRef) IDs() []int {
	if len(r.Parts) > 0 {
		return r.Parts
	}
	if r.MessageID == 0 {
		return nil
	}
	return []int{r.MessageID}
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo makes the first chunk a reply to this message id (0 = none).
	ReplyTo int
}

// Identity is the bot's own account as seen by the chat service.
type Identity struct {
	ID       int64
	Username string
	Name     string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Self() Identity
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// Typing shows a "typing..." indicator; best effort.
	Typing(ctx context.Context, to ChatTarget) error
}

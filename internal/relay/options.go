package relay

import (
	"strings"
	"time"

	"relaybot/internal/ai"
)

const (
	DefaultFallbackText = "Sorry, an error occurred while processing your request."
	DefaultBusyText     = "busy, try again in a moment"

	GroupModeAll     = "all"
	GroupModeMention = "mention"
)

// Options are the hot-reloadable relay settings.
type Options struct {
	Prompt         ai.PromptConfig
	ShowScore      bool
	ReplyToMessage bool
	FallbackText   string
	// GroupMode "mention" relays group messages only when the bot is
	// mentioned or replied to.
	GroupMode    string
	AllowedChats []int64
	Owners       []int64
	// Timeout bounds the whole handling of one message.
	Timeout time.Duration
}

func (o Options) normalized() Options {
	if strings.TrimSpace(o.FallbackText) == "" {
		o.FallbackText = DefaultFallbackText
	}
	o.GroupMode = strings.ToLower(strings.TrimSpace(o.GroupMode))
	if o.GroupMode == "" {
		o.GroupMode = GroupModeAll
	}
	return o
}

// ValidGroupMode reports whether mode is understood.
func ValidGroupMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", GroupModeAll, GroupModeMention:
		return true
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// FormatReply renders the text sent back to the chat.
func FormatReply(r ai.Reply, showScore bool) string {
	if !showScore || !r.HasScore {
		return r.Text
	}
	return r.Text + "\nAI Score: " + r.ScoreString()
}

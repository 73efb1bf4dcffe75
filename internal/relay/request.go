package relay

import (
	"strings"
	"unicode"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"
	OutcomeCommand  Outcome = "command"
	OutcomeReplied  Outcome = "replied"
	OutcomeFallback Outcome = "fallback"
	OutcomeEmpty    Outcome = "empty_reply"
)

// Request carries one inbound message through the handler chain.
type Request struct {
	Message *kit.Message
	// Text is Message.Text with surrounding whitespace removed.
	Text  string
	ReqID string
	Log   logx.Logger

	Outcome Outcome
	Note    string
}

func (r *Request) ignore(why string) {
	r.Outcome = OutcomeIgnored
	r.Note = why
}

// parseCommand splits "/name@bot args" into name and args. ok is false for
// non-commands and for commands addressed to a different bot.
func parseCommand(text, self string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest := text[1:], ""
	if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
		word, rest = word[:i], word[i:]
	}
	if at := strings.IndexByte(word, '@'); at >= 0 {
		if self == "" || !strings.EqualFold(word[at+1:], self) {
			return "", "", false
		}
		word = word[:at]
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), strings.TrimSpace(rest), true
}

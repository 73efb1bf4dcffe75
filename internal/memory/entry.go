// Package memory accumulates relayed exchanges and uploads them as text to
// the memory endpoint once a size or score threshold is crossed.
package memory

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Entry is one exchange: a user message and the bot's reply.
type Entry struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Reply     string    `json:"reply"`
	Score     float64   `json:"score,omitempty"`
	HasScore  bool      `json:"has_score,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	ChatTitle string    `json:"chat_title,omitempty"`
	ThreadID  int       `json:"thread_id,omitempty"`
	At        time.Time `json:"at"`
}

// Render returns the lines appended to the conversation log:
//
//	User <author> said: <content>
//	Bot responded: <reply>, AI Score: <score>
func (e Entry) Render() string {
	var b strings.Builder
	b.Grow(len(e.Author) + len(e.Content) + len(e.Reply) + 48)
	b.WriteString("User ")
	b.WriteString(e.Author)
	b.WriteString(" said: ")
	b.WriteString(e.Content)
	b.WriteString("\nBot responded: ")
	b.WriteString(e.Reply)
	b.WriteString(", AI Score: ")
	if e.HasScore {
		b.WriteString(strconv.FormatFloat(e.Score, 'f', -1, 64))
	}
	b.WriteByte('\n')
	return b.String()
}

// Size is the rendered length in characters.
func (e Entry) Size() int { return utf8.RuneCountInString(e.Render()) }

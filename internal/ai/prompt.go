package ai

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout matches "%Y-%m-%d %H:%M:%S".
const TimestampLayout = "2006-01-02 15:04:05"

// PromptConfig controls how user messages are framed for the endpoint.
type PromptConfig struct {
	AIName     string
	ServerName string
	DomainName string
	Location   *time.Location
	// IncludeMetadata prefixes the text with timestamp and author and adds
	// a context line naming the bot and the chat.
	IncludeMetadata bool
}

type Prompter struct {
	cfg   PromptConfig
	label string
}

func NewPrompter(cfg PromptConfig) *Prompter {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Prompter{cfg: cfg, label: TimezoneLabel(cfg.Location)}
}

// Build frames one message. chatTitle overrides the configured server name
// when set.
func (p *Prompter) Build(username, text, chatTitle, sessionID string, at time.Time) Request {
	req := Request{
		Username:   username,
		Text:       text,
		SessionID:  sessionID,
		DomainName: p.cfg.DomainName,
		At:         at,
	}
	if !p.cfg.IncludeMetadata {
		return req
	}
	ts := at.In(p.cfg.Location).Format(TimestampLayout)
	server := strings.TrimSpace(p.cfg.ServerName)
	if server == "" {
		server = chatTitle
	}
	req.Text = fmt.Sprintf("%s (%s time) %s>>>: %s", ts, p.label, username, text)
	req.Context = fmt.Sprintf("%s, you are in the chat '%s' as of %s (%s time)...", p.aiName(), server, ts, p.label)
	return req
}

func (p *Prompter) aiName() string {
	if n := strings.TrimSpace(p.cfg.AIName); n != "" {
		return n
	}
	return "Assistant"
}

// TimezoneLabel turns "America/Vancouver" into "Vancouver".
func TimezoneLabel(loc *time.Location) string {
	if loc == nil {
		return "local"
	}
	name := loc.String()
	if name == "Local" {
		return "local"
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.ReplaceAll(name, "_", " ")
}

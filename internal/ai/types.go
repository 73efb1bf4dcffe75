// Package ai talks to the remote AI endpoint that generates replies.
//
// Three providers are supported: the personal message API (plain JSON over
// HTTP), OpenAI chat completions and Gemini GenerateContent. Resilient wraps
// any of them with rate limiting, retries and a circuit breaker.
package ai

import (
	"context"
	"strconv"
	"time"
)

// Request is one user message on its way to the AI endpoint.
type Request struct {
	Username   string
	Text       string
	Context    string
	SessionID  string
	DomainName string
	At         time.Time
}

// Reply is the endpoint's answer. Score is meaningful only when HasScore.
type Reply struct {
	Text      string
	Score     float64
	HasScore  bool
	SessionID string
}

// ScoreString renders the score the way replies and memory lines show it.
// It is empty when the endpoint returned no score.
func (r Reply) ScoreString() string {
	if !r.HasScore {
		return ""
	}
	return strconv.FormatFloat(r.Score, 'f', -1, 64)
}

// Responder generates a reply for a request.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req Request) (Reply, error)

func (f ResponderFunc) Respond(ctx context.Context, req Request) (Reply, error) { return f(ctx, req) }

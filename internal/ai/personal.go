package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultPersonalURL = "https://api.personal.ai/v1/message"
	maxResponseBody    = 1 << 20
)

// PersonalConfig configures the personal message API client.
type PersonalConfig struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// Personal posts {Text, Context, SessionId, DomainName} with an x-api-key
// header and reads ai_message, ai_score and SessionId from the answer.
type Personal struct {
	url    string
	apiKey string
	hc     *http.Client
}

func NewPersonal(cfg PersonalConfig) *Personal {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		u = DefaultPersonalURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Personal{url: u, apiKey: cfg.APIKey, hc: hc}
}

type personalRequest struct {
	Text       string `json:"Text"`
	Context    string `json:"Context,omitempty"`
	SessionID  string `json:"SessionId,omitempty"`
	DomainName string `json:"DomainName,omitempty"`
}

type personalResponse struct {
	Message   string    `json:"ai_message"`
	Score     flexScore `json:"ai_score"`
	SessionID string    `json:"SessionId"`
}

// flexScore accepts a number, a numeric string, an empty string or null.
type flexScore struct {
	v  float64
	ok bool
}

func (f *flexScore) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = flexScore{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*f = flexScore{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// an unparsable score is treated as absent rather than failing the reply
		*f = flexScore{}
		return nil
	}
	*f = flexScore{v: v, ok: true}
	return nil
}

func (p *Personal) Respond(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(personalRequest{
		Text:       req.Text,
		Context:    req.Context,
		SessionID:  req.SessionID,
		DomainName: req.DomainName,
	})
	if err != nil {
		return Reply{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("x-api-key", p.apiKey)

	resp, err := p.hc.Do(hreq)
	if err != nil {
		return Reply{}, fmt.Errorf("personal ai: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Reply{}, fmt.Errorf("personal ai: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, NewHTTPError("personal ai", resp, raw)
	}

	var out personalResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Reply{}, fmt.Errorf("personal ai: decode: %w", err)
	}
	reply := Reply{
		Text:      out.Message,
		Score:     out.Score.v,
		HasScore:  out.Score.ok,
		SessionID: out.SessionID,
	}
	if strings.TrimSpace(reply.Text) == "" {
		return reply, ErrEmptyReply
	}
	return reply, nil
}

var _ Responder = (*Personal)(nil)

package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	HTTPClient   *http.Client
}

// Gemini calls GenerateContent with the system prompt as system instruction.
type Gemini struct {
	models       geminiModelsClient
	model        string
	systemPrompt string
}

type geminiModelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("new gemini provider: api key required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: u}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(m geminiModelsClient, cfg GeminiConfig) *Gemini {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}
	sp := strings.TrimSpace(cfg.SystemPrompt)
	if sp == "" {
		sp = DefaultSystemPrompt
	}
	return &Gemini{models: m, model: model, systemPrompt: sp}
}

func (p *Gemini) Respond(ctx context.Context, req Request) (Reply, error) {
	system := p.systemPrompt
	if c := strings.TrimSpace(req.Context); c != "" {
		system += "\n\n" + c
	}
	resp, err := p.models.GenerateContent(ctx, p.model,
		genai.Text(req.Text),
		&genai.GenerateContentConfig{SystemInstruction: genai.NewContentFromText(system, genai.RoleUser)},
	)
	if err != nil {
		return Reply{}, classifyGeminiError(err)
	}
	if resp == nil {
		return Reply{}, ErrEmptyReply
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyReply
	}
	return Reply{Text: text, SessionID: req.SessionID}, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError("gemini", apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("gemini: %w", err)
}

var _ Responder = (*Gemini)(nil)

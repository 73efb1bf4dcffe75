package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultOpenAIModel  = "gpt-3.5-turbo"
	DefaultSystemPrompt = "You are an assistant interpreting a group chat thread. Answer the latest message helpfully and concisely."
)

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	HTTPClient   *http.Client
}

// OpenAI sends the system prompt and the user text as a chat completion.
type OpenAI struct {
	completions  chatCompletionsClient
	model        string
	systemPrompt string
}

type chatCompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("new openai provider: api key required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are owned by Resilient
		option.WithMaxRetries(0),
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)
	return newOpenAI(&client.Chat.Completions, cfg), nil
}

func newOpenAI(c chatCompletionsClient, cfg OpenAIConfig) *OpenAI {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	sp := strings.TrimSpace(cfg.SystemPrompt)
	if sp == "" {
		sp = DefaultSystemPrompt
	}
	return &OpenAI{completions: c, model: model, systemPrompt: sp}
}

func (p *OpenAI) Respond(ctx context.Context, req Request) (Reply, error) {
	system := p.systemPrompt
	if c := strings.TrimSpace(req.Context); c != "" {
		system += "\n\n" + c
	}
	resp, err := p.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(req.Text),
		},
	})
	if err != nil {
		return Reply{}, classifyOpenAIError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Reply{}, ErrEmptyReply
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyReply
	}
	return Reply{Text: text, SessionID: req.SessionID}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}
	if apiErr.Response != nil {
		return NewHTTPError("openai", apiErr.Response, []byte(apiErr.Message))
	}
	return statusError("openai", apiErr.StatusCode, apiErr.Message)
}

var _ Responder = (*OpenAI)(nil)

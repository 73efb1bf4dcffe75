package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ProviderConfig selects and configures one provider.
type ProviderConfig struct {
	Provider     string // personal | openai | gemini
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	HTTPClient   *http.Client
}

// NormalizeProvider maps an empty name to "personal".
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "personal"
	}
	return name
}

// NewProvider builds the configured provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Responder, error) {
	switch NormalizeProvider(cfg.Provider) {
	case "personal":
		return NewPersonal(PersonalConfig{URL: cfg.BaseURL, APIKey: cfg.APIKey, HTTPClient: cfg.HTTPClient}), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model,
			SystemPrompt: cfg.SystemPrompt, HTTPClient: cfg.HTTPClient,
		})
	case "gemini":
		return NewGemini(ctx, GeminiConfig{
			APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model,
			SystemPrompt: cfg.SystemPrompt, HTTPClient: cfg.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

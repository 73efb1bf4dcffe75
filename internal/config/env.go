package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg:
//
//	BOT_TOKEN       telegram.token
//	API_KEY         ai.api_key (personal provider) and memory.api_key
//	OPENAI_API_KEY  ai.api_key when ai.provider=openai
//	GEMINI_API_KEY  ai.api_key when ai.provider=gemini
//	BASE_URL        ai.base_url
//	MEMORY_API_URL  memory.url
//	AI_NAME         relay.ai_name
//	SERVER_NAME     relay.server_name
//	DOMAIN_NAME     ai.domain_name
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&cfg.Telegram.Token, "BOT_TOKEN")
	set(&cfg.AI.BaseURL, "BASE_URL")
	set(&cfg.Memory.URL, "MEMORY_API_URL")
	set(&cfg.Relay.AIName, "AI_NAME")
	set(&cfg.Relay.ServerName, "SERVER_NAME")
	set(&cfg.AI.DomainName, "DOMAIN_NAME")

	switch strings.ToLower(strings.TrimSpace(cfg.AI.Provider)) {
	case "openai":
		set(&cfg.AI.APIKey, "OPENAI_API_KEY")
	case "gemini":
		set(&cfg.AI.APIKey, "GEMINI_API_KEY")
	default:
		set(&cfg.AI.APIKey, "API_KEY")
	}
	set(&cfg.Memory.APIKey, "API_KEY")
}

package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Empty values fall
// back to defaults when the app maps this struct into component configs.
// Secrets may be left empty here and supplied through the environment
// (see ApplyEnv).
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	AI        AIConfig        `json:"ai"`
	Memory    MemoryConfig    `json:"memory"`
	Relay     RelayConfig     `json:"relay"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// AllowedChats restricts relaying to these chat ids. Empty allows all.
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// AIConfig selects and tunes the AI endpoint.
//
// Provider values:
//   - "personal" (default): JSON message API with an x-api-key header
//   - "openai": chat completions through the OpenAI SDK (Bearer key)
//   - "gemini": Gemini GenerateContent through the genai SDK
type AIConfig struct {
	Provider     string `json:"provider,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	DomainName   string `json:"domain_name,omitempty"`
	Timeout      string `json:"timeout,omitempty"`

	RatePerSec float64       `json:"rate_per_sec,omitempty"`
	Burst      int           `json:"burst,omitempty"`
	Retry      RetryConfig   `json:"retry"`
	Breaker    BreakerConfig `json:"breaker"`
}

// RetryConfig defaults to 5 attempts with backoff between 1s and 10s.
type RetryConfig struct {
	Attempts  int    `json:"attempts,omitempty"`
	BaseDelay string `json:"base_delay,omitempty"`
	MaxDelay  string `json:"max_delay,omitempty"`
}

// BreakerConfig: trip_failures < 0 disables the breaker.
type BreakerConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

// MemoryConfig controls the conversation log uploaded to the memory endpoint.
//
// Enabled is a pointer so an omitted value can default to true.
type MemoryConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	URL        string `json:"url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	SourceName string `json:"source_name,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Timeout    string `json:"timeout,omitempty"`

	// MaxChars flushes once the buffered text grows past this many characters.
	MaxChars int `json:"max_chars,omitempty"`
	// ScoreThreshold flushes when a reply scores above it. Nil means 1;
	// set score_trigger=false to disable score-based flushing.
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
	ScoreTrigger   *bool    `json:"score_trigger,omitempty"`
	// FlushSchedule additionally flushes on a timer ("@every 30m", "*/15 * * * *", "1h").
	FlushSchedule string `json:"flush_schedule,omitempty"`
	// MaxBacklogChars caps text kept for retry after failed uploads.
	MaxBacklogChars int `json:"max_backlog_chars,omitempty"`
	// FailureCooldown pauses threshold flushes after a failed upload (default 5m).
	FailureCooldown string      `json:"failure_cooldown,omitempty"`
	Retry           RetryConfig `json:"retry"`
}

type RelayConfig struct {
	AIName     string `json:"ai_name,omitempty"`
	ServerName string `json:"server_name,omitempty"`
	Timezone   string `json:"timezone,omitempty"`

	// IncludeMetadata prepends timestamp + author and sends a context line.
	IncludeMetadata bool `json:"include_metadata"`
	// ShowScore appends "AI Score: <n>" to replies when the endpoint returns one.
	ShowScore      bool   `json:"show_score"`
	ReplyToMessage bool   `json:"reply_to_message"`
	FallbackText   string `json:"fallback_text,omitempty"`

	// GroupMode is "all" (default) or "mention": in groups, only relay
	// messages that mention the bot or reply to it.
	GroupMode string `json:"group_mode,omitempty"`

	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	BusyText  string `json:"busy_text,omitempty"`
	// Timeout bounds the handling of one message, retries included.
	Timeout string `json:"timeout,omitempty"`

	SessionTTL string `json:"session_ttl,omitempty"`
	SessionMax int    `json:"session_max,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
//	"storage": { "driver": "sqlite", "path": "./data/relaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig tunes the cron service that drives timed jobs.
// Timezone defaults to relay.timezone.
type SchedulerConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

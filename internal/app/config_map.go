package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/ai"
	"relaybot/internal/config"
	"relaybot/internal/memory"
	"relaybot/internal/relay"
	"relaybot/internal/retry"
	"relaybot/internal/session"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

const (
	DefaultTimezone     = "America/Vancouver"
	defaultRelayTimeout = 5 * time.Minute
	defaultPollTimeout  = 10 * time.Second
	defaultTripFailures = 5
)

func loadLocation(path, tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid %q: %w", path, tz, err)
	}
	return loc, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return telegram.Config{}, errors.New("telegram.token is required (or set BOT_TOKEN)")
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			ChatID:     lc.Chat.ChatID,
			ThreadID:   lc.Chat.ThreadID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func mapRetry(path string, rc config.RetryConfig) (retry.Policy, error) {
	p := retry.DefaultPolicy()
	if rc.Attempts < 0 {
		return p, fmt.Errorf("%s.attempts must be >= 0", path)
	}
	if rc.Attempts > 0 {
		p.Attempts = rc.Attempts
	}
	var err error
	if p.BaseDelay, err = config.ParseDurationOrDefault(path+".base_delay", rc.BaseDelay, p.BaseDelay); err != nil {
		return p, err
	}
	if p.MaxDelay, err = config.ParseDurationOrDefault(path+".max_delay", rc.MaxDelay, p.MaxDelay); err != nil {
		return p, err
	}
	if p.MaxDelay < p.BaseDelay {
		return p, fmt.Errorf("%s.max_delay must be >= base_delay", path)
	}
	return p, nil
}

func mapProvider(cfg *config.Config) (ai.ProviderConfig, error) {
	ac := cfg.AI
	name := ai.NormalizeProvider(ac.Provider)
	pc := ai.ProviderConfig{
		Provider:     name,
		BaseURL:      strings.TrimSpace(ac.BaseURL),
		APIKey:       strings.TrimSpace(ac.APIKey),
		Model:        strings.TrimSpace(ac.Model),
		SystemPrompt: ac.SystemPrompt,
	}
	switch name {
	case "personal":
		if pc.BaseURL == "" {
			pc.BaseURL = ai.DefaultPersonalURL
		}
	case "openai", "gemini":
		// BASE_URL usually points at the personal endpoint; SDK providers
		// keep their own default unless a different host is configured.
		if pc.BaseURL == ai.DefaultPersonalURL {
			pc.BaseURL = ""
		}
	default:
		return pc, fmt.Errorf("ai.provider: %w: %q", ai.ErrUnknownProvider, ac.Provider)
	}
	return pc, nil
}

func mapResilient(cfg *config.Config) (ai.ResilientConfig, error) {
	ac := cfg.AI
	timeout, err := config.ParseDurationOrDefault("ai.timeout", ac.Timeout, ai.DefaultTimeout)
	if err != nil {
		return ai.ResilientConfig{}, err
	}
	if ac.RatePerSec < 0 || ac.Burst < 0 {
		return ai.ResilientConfig{}, errors.New("ai.rate_per_sec and ai.burst must be >= 0")
	}
	pol, err := mapRetry("ai.retry", ac.Retry)
	if err != nil {
		return ai.ResilientConfig{}, err
	}
	bc := retry.BreakerConfig{TripFailures: ac.Breaker.TripFailures}
	switch {
	case bc.TripFailures == 0:
		bc.TripFailures = defaultTripFailures
	case bc.TripFailures < 0:
		bc.TripFailures = 0
	}
	if bc.BaseDelay, err = config.ParseDurationOrDefault("ai.breaker.base_delay", ac.Breaker.BaseDelay, 10*time.Second); err != nil {
		return ai.ResilientConfig{}, err
	}
	if bc.MaxDelay, err = config.ParseDurationOrDefault("ai.breaker.max_delay", ac.Breaker.MaxDelay, 5*time.Minute); err != nil {
		return ai.ResilientConfig{}, err
	}
	if bc.ResetAfter, err = config.ParseDurationOrDefault("ai.breaker.reset_after", ac.Breaker.ResetAfter, 10*time.Minute); err != nil {
		return ai.ResilientConfig{}, err
	}
	return ai.ResilientConfig{
		Timeout:    timeout,
		RatePerSec: ac.RatePerSec,
		Burst:      ac.Burst,
		Retry:      pol,
		Breaker:    bc,
	}, nil
}

func mapRelay(cfg *config.Config) (relay.Options, error) {
	rc := cfg.Relay
	loc, err := loadLocation("relay.timezone", rc.Timezone)
	if err != nil {
		return relay.Options{}, err
	}
	if !relay.ValidGroupMode(rc.GroupMode) {
		return relay.Options{}, fmt.Errorf("relay.group_mode: unknown %q (want all|mention)", rc.GroupMode)
	}
	timeout, err := config.ParseDurationOrDefault("relay.timeout", rc.Timeout, defaultRelayTimeout)
	if err != nil {
		return relay.Options{}, err
	}
	return relay.Options{
		Prompt: ai.PromptConfig{
			AIName:          rc.AIName,
			ServerName:      rc.ServerName,
			DomainName:      cfg.AI.DomainName,
			Location:        loc,
			IncludeMetadata: rc.IncludeMetadata,
		},
		ShowScore:      rc.ShowScore,
		ReplyToMessage: rc.ReplyToMessage,
		FallbackText:   rc.FallbackText,
		GroupMode:      rc.GroupMode,
		AllowedChats:   append([]int64(nil), cfg.Telegram.AllowedChats...),
		Owners:         append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		Timeout:        timeout,
	}, nil
}

func mapDispatcher(cfg *config.Config) (relay.DispatcherConfig, error) {
	rc := cfg.Relay
	if rc.Workers < 0 || rc.QueueSize < 0 {
		return relay.DispatcherConfig{}, errors.New("relay.workers and relay.queue_size must be >= 0")
	}
	return relay.DispatcherConfig{Workers: rc.Workers, QueueSize: rc.QueueSize, BusyText: rc.BusyText}, nil
}

func mapSession(cfg *config.Config) (session.Config, error) {
	rc := cfg.Relay
	if rc.SessionMax < 0 {
		return session.Config{}, errors.New("relay.session_max must be >= 0")
	}
	ttl, err := config.ParseDurationOrDefault("relay.session_ttl", rc.SessionTTL, session.DefaultTTL)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{TTL: ttl, Max: rc.SessionMax}, nil
}

func memoryEnabled(cfg *config.Config) bool {
	return cfg.Memory.Enabled == nil || *cfg.Memory.Enabled
}

func mapMemory(cfg *config.Config) (memory.Config, error) {
	mc := cfg.Memory
	if mc.MaxChars < 0 {
		return memory.Config{}, errors.New("memory.max_chars must be > 0")
	}
	if mc.MaxBacklogChars < 0 {
		return memory.Config{}, errors.New("memory.max_backlog_chars must be >= 0")
	}
	threshold := memory.DefaultScoreThreshold
	if mc.ScoreThreshold != nil {
		threshold = *mc.ScoreThreshold
		if threshold <= 0 {
			return memory.Config{}, errors.New("memory.score_threshold must be > 0")
		}
	}
	trigger := mc.ScoreTrigger == nil || *mc.ScoreTrigger
	cooldown, err := config.ParseDurationField("memory.failure_cooldown", mc.FailureCooldown)
	if err != nil {
		return memory.Config{}, err
	}
	out := memory.Config{
		Enabled:         memoryEnabled(cfg),
		MaxChars:        mc.MaxChars,
		ScoreTrigger:    trigger,
		ScoreThreshold:  threshold,
		MaxBacklogChars: mc.MaxBacklogChars,
		FailureCooldown: cooldown,
	}
	if out.MaxChars == 0 {
		out.MaxChars = memory.DefaultMaxChars
	}
	if out.MaxBacklogChars > 0 && out.MaxBacklogChars < out.MaxChars {
		return memory.Config{}, errors.New("memory.max_backlog_chars must be >= memory.max_chars")
	}
	return out, nil
}

func mapUploader(cfg *config.Config, loc *time.Location) (memory.UploaderConfig, error) {
	mc := cfg.Memory
	timeout, err := config.ParseDurationOrDefault("memory.timeout", mc.Timeout, ai.DefaultTimeout)
	if err != nil {
		return memory.UploaderConfig{}, err
	}
	pol, err := mapRetry("memory.retry", mc.Retry)
	if err != nil {
		return memory.UploaderConfig{}, err
	}
	return memory.UploaderConfig{
		URL:        strings.TrimSpace(mc.URL),
		APIKey:     strings.TrimSpace(mc.APIKey),
		SourceName: mc.SourceName,
		DeviceName: mc.DeviceName,
		Timeout:    timeout,
		Retry:      pol,
		Location:   loc,
	}, nil
}

// mapScheduler falls back to relay.timezone so flush times read in the same zone as prompts.
func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Relay.Timezone)
	}
	if tz == "" {
		tz = DefaultTimezone
	}
	if _, err := loadLocation("scheduler.timezone", tz); err != nil {
		return scheduler.Config{}, err
	}
	def, err := config.ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: tz, DefaultTimeout: def}, nil
}

func mapFlushSchedule(cfg *config.Config) (string, error) {
	raw := strings.TrimSpace(cfg.Memory.FlushSchedule)
	if raw == "" {
		return "", nil
	}
	if err := scheduler.Validate(raw); err != nil {
		return "", fmt.Errorf("memory.flush_schedule: %w", err)
	}
	return raw, nil
}

// Validate runs every mapper so a config that would fail at startup (or
// on hot reload) is rejected up front.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapTelegram(cfg); err != nil {
		return err
	}
	if _, err := mapProvider(cfg); err != nil {
		return err
	}
	if _, err := mapResilient(cfg); err != nil {
		return err
	}
	if _, err := mapRelay(cfg); err != nil {
		return err
	}
	if _, err := mapDispatcher(cfg); err != nil {
		return err
	}
	if _, err := mapSession(cfg); err != nil {
		return err
	}
	if _, err := mapMemory(cfg); err != nil {
		return err
	}
	if _, err := mapUploader(cfg, time.UTC); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if _, err := mapFlushSchedule(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorage(cfg); err != nil {
		return err
	}
	return nil
}

package config

import (
	"reflect"
	"strings"

	logx "relaybot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs describing the new values. Secrets (tokens, API keys) are
// only reported as "<name>_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) ||
		!reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) || !reflect.DeepEqual(o.AllowedChats, n.AllowedChats) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.Int("telegram.allowed_chats", len(n.AllowedChats)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.AI, newCfg.AI) {
		changed = append(changed, "ai")
		attrs = append(attrs,
			logx.String("ai.provider", newCfg.AI.Provider),
			logx.String("ai.model", newCfg.AI.Model),
			logx.Bool("ai.api_key_set", strings.TrimSpace(newCfg.AI.APIKey) != ""),
			logx.Float64("ai.rate_per_sec", newCfg.AI.RatePerSec),
			logx.Int("ai.retry_attempts", newCfg.AI.Retry.Attempts),
		)
	}

	if !reflect.DeepEqual(oldCfg.Memory, newCfg.Memory) {
		changed = append(changed, "memory")
		attrs = append(attrs,
			logx.Int("memory.max_chars", newCfg.Memory.MaxChars),
			logx.String("memory.flush_schedule", newCfg.Memory.FlushSchedule),
			logx.Bool("memory.api_key_set", strings.TrimSpace(newCfg.Memory.APIKey) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.timezone", newCfg.Relay.Timezone),
			logx.String("relay.group_mode", newCfg.Relay.GroupMode),
			logx.Bool("relay.include_metadata", newCfg.Relay.IncludeMetadata),
			logx.Bool("relay.show_score", newCfg.Relay.ShowScore),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	var ost, ns StorageConfig
	if oldCfg.Storage != nil {
		ost = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		ns = *newCfg.Storage
	}
	if ost != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", ns.Driver),
			logx.String("storage.path", ns.Path),
		)
	}

	return changed, attrs
}

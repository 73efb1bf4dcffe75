package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relaybot/internal/ai"
	"relaybot/internal/config"
	"relaybot/internal/memory"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// ErrNoStorage is returned by FlushBacklog when no backlog can exist.
var ErrNoStorage = errors.New("storage disabled; no persisted backlog")

// LoadConfig parses and validates the config at path without starting anything.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FlushBacklog uploads the persisted memory backlog once.
func FlushBacklog(ctx context.Context, cfg *config.Config, log logx.Logger) (memory.FlushEvent, error) {
	scfg, enabled, err := mapStorage(cfg)
	if err != nil {
		return memory.FlushEvent{}, err
	}
	if !enabled {
		return memory.FlushEvent{}, ErrNoStorage
	}
	store, err := storage.Open(scfg, log)
	if err != nil {
		return memory.FlushEvent{}, fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	ro, err := mapRelay(cfg)
	if err != nil {
		return memory.FlushEvent{}, err
	}
	mcfg, err := mapMemory(cfg)
	if err != nil {
		return memory.FlushEvent{}, err
	}
	ucfg, err := mapUploader(cfg, ro.Prompt.Location)
	if err != nil {
		return memory.FlushEvent{}, err
	}
	// the backlog is uploaded even when recording is switched off
	mcfg.Enabled = true
	rec := memory.NewRecorder(mcfg, memory.NewUploader(ucfg, log), store, nil, log)
	if _, err := rec.Restore(ctx); err != nil {
		return memory.FlushEvent{}, err
	}
	return rec.Flush(ctx, "cli")
}

// Summary describes the effective config without secrets, one line per setting.
func Summary(cfg *config.Config) []string {
	pc, _ := mapProvider(cfg)
	rc, _ := mapResilient(cfg)
	ro, _ := mapRelay(cfg)
	mc, _ := mapMemory(cfg)
	uc, _ := mapUploader(cfg, nil)
	sc, storageOn, _ := mapStorage(cfg)
	schedule, _ := mapFlushSchedule(cfg)

	set := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "unset"
		}
		return "set"
	}
	tz := "?"
	if ro.Prompt.Location != nil {
		tz = ro.Prompt.Location.String() + " (" + ai.TimezoneLabel(ro.Prompt.Location) + ")"
	}
	model := pc.Model
	if model == "" {
		model = "default"
	}
	lines := []string{
		"telegram.token: " + set(cfg.Telegram.Token),
		fmt.Sprintf("telegram.owners: %d, allowed_chats: %d", len(cfg.Telegram.OwnerUserIDs), len(cfg.Telegram.AllowedChats)),
		fmt.Sprintf("ai: provider=%s model=%s url=%s key=%s", pc.Provider, model, pc.BaseURL, set(pc.APIKey)),
		fmt.Sprintf("ai.resilience: timeout=%s attempts=%d backoff=%s..%s breaker_trip=%d",
			rc.Timeout, rc.Retry.Attempts, rc.Retry.BaseDelay, rc.Retry.MaxDelay, rc.Breaker.TripFailures),
		fmt.Sprintf("relay: timezone=%s metadata=%t show_score=%t group_mode=%s",
			tz, ro.Prompt.IncludeMetadata, ro.ShowScore, ro.GroupMode),
		fmt.Sprintf("memory: enabled=%t max_chars=%d score_trigger=%t threshold=%g schedule=%q key=%s",
			mc.Enabled, mc.MaxChars, mc.ScoreTrigger, mc.ScoreThreshold, schedule, set(uc.APIKey)),
	}
	if storageOn {
		lines = append(lines, fmt.Sprintf("storage: driver=%s path=%s", sc.Driver, sc.Path))
	} else {
		lines = append(lines, "storage: none")
	}
	return lines
}

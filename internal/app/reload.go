package app

import (
	"context"
	"strings"

	"relaybot/internal/config"
	logx "relaybot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the hot-reloadable parts of newCfg into the running
// components. Token, storage and AI provider changes only take effect after
// a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, what := range restartRequired(oldCfg, newCfg) {
		a.log.Warn(what + " changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogging(newCfg))

	if ro, err := mapRelay(newCfg); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.handler.Apply(ro)
	}
	if sc, err := mapSession(newCfg); err != nil {
		a.log.Warn("invalid session config; keeping previous", logx.Err(err))
	} else {
		a.sessions.Apply(sc)
	}
	if mc, err := mapMemory(newCfg); err != nil {
		a.log.Warn("invalid memory config; keeping previous", logx.Err(err))
	} else {
		a.recorder.Apply(mc)
	}
	if rc, err := mapResilient(newCfg); err != nil {
		a.log.Warn("invalid ai limits; keeping previous", logx.Err(err))
	} else {
		a.ai.Apply(rc)
	}
	if sc, err := mapScheduler(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if spec, err := mapFlushSchedule(newCfg); err != nil {
		a.log.Warn("invalid flush schedule; keeping previous", logx.Err(err))
	} else if err := a.setFlushSchedule(spec); err != nil {
		a.log.Warn("flush schedule not applied", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func restartRequired(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram connection")
	}
	op, _ := mapProvider(oldCfg)
	np, _ := mapProvider(newCfg)
	if op != np {
		out = append(out, "ai provider")
	}
	ou, _ := mapUploader(oldCfg, nil)
	nu, _ := mapUploader(newCfg, nil)
	if ou != nu {
		out = append(out, "memory endpoint")
	}
	ost, _, _ := mapStorage(oldCfg)
	nst, _, _ := mapStorage(newCfg)
	if ost != nst {
		out = append(out, "storage")
	}
	return out
}

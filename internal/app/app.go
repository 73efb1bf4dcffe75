package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaybot/internal/ai"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/memory"
	"relaybot/internal/relay"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

const (
	jobMemoryFlush  = "memory.flush"
	jobSessionPrune = "session.prune"

	sessionPruneEvery = "@every 10m"
	finalFlushTimeout = 15 * time.Second
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	ai       *ai.Resilient
	sessions *session.Map
	recorder *memory.Recorder
	handler  *relay.Handler
	disp     *relay.Dispatcher
	sched    *scheduler.Service

	// flushSpec is only touched by New and the config.reload goroutine.
	flushSpec string

	updates chan kit.Update
}

// Option customizes New. Used by tests to avoid the Telegram network.
type Option func(*options)

type options struct {
	adapter   kit.Adapter
	responder ai.Responder
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithResponder replaces the configured AI provider. Resilience still wraps it.
func WithResponder(r ai.Responder) Option { return func(o *options) { o.responder = r } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))

	adapter := o.adapter
	if adapter == nil {
		tc, err := mapTelegram(cfg)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(tc, bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		adapter = tg
	}

	logs, log := logx.New(mapLogging(cfg), adapter)
	if tg, ok := adapter.(*telegram.Adapter); ok {
		tg.SetLogger(log.With(logx.String("comp", "telegram")))
	}

	bus := eventbus.New()

	scfg, enabled, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	var store storage.Store
	if enabled {
		if store, err = storage.Open(scfg, log); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		log.Info("storage ready", logx.String("driver", scfg.Driver), logx.String("path", scfg.Path))
	}
	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		logs.Close()
		return nil, err
	}

	responder := o.responder
	if responder == nil {
		pc, err := mapProvider(cfg)
		if err != nil {
			return fail(err)
		}
		bctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		responder, err = ai.NewProvider(bctx, pc)
		cancel()
		if err != nil {
			return fail(fmt.Errorf("ai: %w", err))
		}
		log.Info("ai provider ready", logx.String("provider", pc.Provider), logx.String("model", pc.Model))
	}
	rc, err := mapResilient(cfg)
	if err != nil {
		return fail(err)
	}
	resilient := ai.NewResilient(responder, rc, log.With(logx.String("comp", "ai")))

	ropts, err := mapRelay(cfg)
	if err != nil {
		return fail(err)
	}
	mcfg, err := mapMemory(cfg)
	if err != nil {
		return fail(err)
	}
	ucfg, err := mapUploader(cfg, ropts.Prompt.Location)
	if err != nil {
		return fail(err)
	}
	recorder := memory.NewRecorder(mcfg,
		memory.NewUploader(ucfg, log.With(logx.String("comp", "memory.upload"))),
		store, bus, log.With(logx.String("comp", "memory")))
	if _, err := recorder.Restore(context.Background()); err != nil {
		log.Warn("memory backlog not restored", logx.Err(err))
	}

	sesCfg, err := mapSession(cfg)
	if err != nil {
		return fail(err)
	}
	sessions := session.New(sesCfg, store, log.With(logx.String("comp", "session")))

	var a *App
	handler := relay.NewHandler(relay.Deps{
		Adapter:   adapter,
		Responder: resilient,
		Sessions:  sessions,
		Recorder:  recorder,
		Store:     store,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "relay")),
		AIStats:   resilient.Stats,
		Tasks:     func() []rtsup.TaskStats { return a.taskStats() },
		Schedules: func() scheduler.Snapshot { return a.sched.Snapshot() },
	}, ropts)

	dcfg, err := mapDispatcher(cfg)
	if err != nil {
		return fail(err)
	}
	disp := relay.NewDispatcher(dcfg, handler, adapter, log.With(logx.String("comp", "dispatcher")))

	schCfg, err := mapScheduler(cfg)
	if err != nil {
		return fail(err)
	}
	sched := scheduler.New(schCfg, log.With(logx.String("comp", "scheduler")))

	a = &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		bus:      bus,
		store:    store,
		adapter:  adapter,
		ai:       resilient,
		sessions: sessions,
		recorder: recorder,
		handler:  handler,
		disp:     disp,
		sched:    sched,
		updates:  make(chan kit.Update, 256),
	}

	if err := sched.AddSchedule(jobSessionPrune, sessionPruneEvery, 30*time.Second, a.pruneSessions); err != nil {
		return fail(err)
	}
	spec, err := mapFlushSchedule(cfg)
	if err != nil {
		return fail(err)
	}
	if err := a.setFlushSchedule(spec); err != nil {
		return fail(err)
	}
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app's run context ends, including on a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) pruneSessions(ctx context.Context) error {
	if n := a.sessions.Prune(ctx); n > 0 {
		a.log.Debug("sessions pruned", logx.Int("count", n))
	}
	return nil
}

func (a *App) flushJob(ctx context.Context) error {
	_, err := a.recorder.Flush(ctx, "schedule")
	if errors.Is(err, memory.ErrNothingToFlush) {
		return nil
	}
	return err
}

// setFlushSchedule replaces the timed memory flush. An empty spec removes it.
func (a *App) setFlushSchedule(spec string) error {
	if spec == a.flushSpec {
		return nil
	}
	a.sched.Remove(jobMemoryFlush)
	a.flushSpec = ""
	if spec == "" {
		return nil
	}
	if err := a.sched.AddSchedule(jobMemoryFlush, spec, 0, a.flushJob); err != nil {
		return fmt.Errorf("memory.flush_schedule: %w", err)
	}
	a.flushSpec = spec
	return nil
}

// supervised is implemented by adapters that run their own goroutines.
type supervised interface {
	Supervisor() *rtsup.Supervisor
}

// taskStats merges the app supervisor's tasks with the adapter's.
func (a *App) taskStats() []rtsup.TaskStats {
	var out []rtsup.TaskStats
	if a.sup != nil {
		out = append(out, a.sup.Snapshot()...)
	}
	if s, ok := a.adapter.(supervised); ok {
		if sup := s.Supervisor(); sup != nil {
			out = append(out, sup.Snapshot()...)
		}
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	self := a.adapter.Self()
	a.log.Info("connected", logx.Int64("bot_id", self.ID), logx.String("username", self.Username))

	a.sup.Go("relay.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})

	a.sched.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.logEvent(e)
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	notifyReady(a.log)
	a.log.Info("app started")
	return nil
}

// logEvent keeps frequent events at debug level.
func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case relay.RepliedEvent:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.Int64("chat_id", d.ChatID),
			logx.Int("message_id", d.MessageID),
			logx.Duration("took", d.Took),
		)
	case memory.FlushEvent:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("reason", d.Reason),
			logx.Int("entries", d.Entries),
			logx.Int("chars", d.Chars),
		)
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifyStopping(a.log)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		a.stopStep(ctx, name, max, fn)
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// dispatcher workers finish the message in hand before the final flush
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("memory.flush", finalFlushTimeout, func(c context.Context) error {
		_, err := a.recorder.Flush(c, "shutdown")
		if errors.Is(err, memory.ErrNothingToFlush) {
			return nil
		}
		return err
	})
	step("storage", 2*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// stopStep runs fn with an upper bound so one component can't stall the whole stop.
func (a *App) stopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline passed", logx.String("name", name))
			return
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}

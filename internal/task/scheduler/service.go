package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

const defaultJobTimeout = 2 * time.Minute

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log,
		defs: map[string]*scheduleDef{},
	}
}

// Validate checks that schedule parses and is accepted by the cron parser,
// so "61 * * * *" fails here rather than at registration.
func Validate(schedule string) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if _, err := cronParser.Parse(ps.CronSpec()); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return nil
}

// AddSchedule registers (or replaces) the job called name.
// Registration before Start is kept and activated by Start.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if err := Validate(schedule); err != nil {
		return err
	}
	ps, _ := ParseSchedule(schedule)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: ps, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", ps.CronSpec()), logx.Duration("timeout", timeout))
	return nil
}

// Remove unregisters name. It reports whether a schedule existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	id, err := s.c.AddFunc(d.spec.CronSpec(), func() { s.fire(d) })
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// Apply updates the config. A timezone change restarts cron with the new
// location and re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || !tzChanged {
		return
	}
	old := s.c
	s.startLocked()
	// Stop only halts triggering; running jobs finish under Stop's wait.
	old.Stop()
}

// Start begins triggering registered schedules.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts triggering, cancels running jobs and waits for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.Stop()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for jobs")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) fire(d *scheduleDef) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	s.wg.Add(1)
	defer s.wg.Done()
	_ = s.run(base, d)
}

func (s *Service) run(parent context.Context, d *scheduleDef) (err error) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("job still running; trigger skipped", logx.String("name", d.name))
		return nil
	}
	defer d.running.Store(false)

	timeout := d.timeout
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.String("name", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		d.runs.Add(1)
		if err != nil {
			d.failures.Add(1)
			d.lastErr.Store(err.Error())
			s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		d.lastErr.Store("")
		s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
	}()
	return d.job(ctx)
}

// Snapshot reports registered schedules sorted by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{Running: s.c != nil, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if s.loc != nil {
		out.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:     d.name,
			Spec:     d.spec.CronSpec(),
			Timeout:  d.timeout,
			Running:  d.running.Load(),
			Runs:     d.runs.Load(),
			Skipped:  d.skipped.Load(),
			Failures: d.failures.Load(),
		}
		if v, ok := d.lastErr.Load().(string); ok {
			info.LastErr = v
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out.Schedules = append(out.Schedules, info)
	}
	sort.Slice(out.Schedules, func(i, j int) bool { return out.Schedules[i].Name < out.Schedules[j].Name })
	return out
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

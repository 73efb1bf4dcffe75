package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone       string // IANA TZ, e.g. "America/Vancouver"; empty means local
	DefaultTimeout time.Duration
}

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
	lastErr  atomic.Value // string
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	defs map[string]*scheduleDef

	// base is canceled by Stop so in-flight jobs observe shutdown.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ScheduleInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Running  bool
	Runs     uint64
	Skipped  uint64
	Failures uint64
	LastErr  string
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}

package relay

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64

	busySendTimeout = 5 * time.Second
	maxBusySends    = 4
)

// MessageHandler handles one message. *Handler implements it.
type MessageHandler interface {
	Handle(ctx context.Context, msg *kit.Message) error
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	BusyText  string
}

// Dispatcher fans updates out to a fixed set of workers. A chat always maps
// to the same worker, so messages from one chat are handled in order.
type Dispatcher struct {
	cfg     DispatcherConfig
	handler MessageHandler
	adapter kit.Adapter
	log     logx.Logger

	dropped atomic.Uint64

	// busy notices are sent off the routing loop; busySem caps them
	busySem chan struct{}
	busyWG  sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, handler MessageHandler, adapter kit.Adapter, log logx.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BusyText == "" {
		cfg.BusyText = DefaultBusyText
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, handler: handler, adapter: adapter, log: log, busySem: make(chan struct{}, maxBusySends)}
}

func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run consumes updates until ctx is done or updates is closed, then waits
// for the workers to exit. Messages still queued after cancellation are skipped.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	queues := make([]chan *kit.Message, d.cfg.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan *kit.Message, d.cfg.QueueSize)
		wg.Add(1)
		go d.worker(ctx, i, queues[i], &wg)
	}
	d.log.Info("dispatcher started", logx.Int("workers", d.cfg.Workers), logx.Int("queue_cap", d.cfg.QueueSize))

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		d.busyWG.Wait()
		d.log.Info("dispatcher stopped", logx.Uint64("dropped", d.dropped.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			d.route(ctx, queues, up.Message)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, queues []chan *kit.Message, msg *kit.Message) {
	q := queues[shard(msg.ChatID, len(queues))]
	select {
	case q <- msg:
	default:
		d.dropped.Add(1)
		d.log.Warn("worker queue full; message dropped", logx.Int64("chat_id", msg.ChatID), logx.Int("message_id", msg.ID))
		d.sendBusy(ctx, msg)
	}
}

// sendBusy tells the sender their message was dropped without stalling the
// routing loop. Notices beyond maxBusySends in flight are skipped.
func (d *Dispatcher) sendBusy(ctx context.Context, msg *kit.Message) {
	if d.adapter == nil {
		return
	}
	select {
	case d.busySem <- struct{}{}:
	default:
		d.log.Debug("busy notice skipped", logx.Int64("chat_id", msg.ChatID))
		return
	}
	d.busyWG.Add(1)
	go func() {
		defer d.busyWG.Done()
		defer func() { <-d.busySem }()
		sctx, cancel := context.WithTimeout(ctx, busySendTimeout)
		defer cancel()
		if _, err := d.adapter.SendText(sctx, msg.Target(), d.cfg.BusyText, &kit.SendOptions{ReplyTo: msg.ID}); err != nil {
			d.log.Debug("busy notice failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		}
	}()
}

func shard(chatID int64, n int) int {
	// fold the sign bit so negative group ids spread as well
	u := uint64(chatID)
	u ^= u >> 33
	u *= 0xff51afd7ed558ccd
	u ^= u >> 33
	return int(u % uint64(n))
}

func (d *Dispatcher) worker(ctx context.Context, idx int, q <-chan *kit.Message, wg *sync.WaitGroup) {
	defer wg.Done()
	for msg := range q {
		d.handleOne(ctx, idx, msg)
	}
}

func (d *Dispatcher) handleOne(ctx context.Context, idx int, msg *kit.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in relay worker", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	// errors are logged by the handler chain
	_ = d.handler.Handle(ctx, msg)
}

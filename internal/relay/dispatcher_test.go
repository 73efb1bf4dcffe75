package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type orderHandler struct {
	mu   sync.Mutex
	seen map[int64][]int
	wg   sync.WaitGroup
}

func (h *orderHandler) Handle(ctx context.Context, msg *kit.Message) error {
	defer h.wg.Done()
	if msg.ID == -1 {
		panic("boom")
	}
	h.mu.Lock()
	h.seen[msg.ChatID] = append(h.seen[msg.ChatID], msg.ID)
	h.mu.Unlock()
	return nil
}

func TestDispatcherKeepsPerChatOrder(t *testing.T) {
	h := &orderHandler{seen: map[int64][]int{}}
	d := NewDispatcher(DispatcherConfig{Workers: 3, QueueSize: 128}, h, nil, logx.Nop())

	updates := make(chan kit.Update)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, updates) }()

	chats := []int64{-1001, -1002, 5, 6}
	h.wg.Add(len(chats)*20 + 1)
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: -1, ChatID: 5}}
	for i := 1; i <= 20; i++ {
		for _, c := range chats {
			updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: i, ChatID: c}}
		}
	}
	h.wg.Wait()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run error: %v", err)
	}

	for _, c := range chats {
		ids := h.seen[c]
		if len(ids) != 20 {
			t.Fatalf("chat %d handled %d messages, want 20", c, len(ids))
		}
		for i, id := range ids {
			if id != i+1 {
				t.Fatalf("chat %d out of order: %v", c, ids)
			}
		}
	}
}

type blockingHandler struct{ release chan struct{} }

func (h *blockingHandler) Handle(ctx context.Context, msg *kit.Message) error {
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return nil
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{})}
	a := newFakeAdapter()
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1}, h, a, logx.Nop())

	updates := make(chan kit.Update)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, updates) }()

	// one in the handler, one queued, the rest dropped
	for i := 1; i <= 4; i++ {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: i, ChatID: 1}}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	close(h.release)
	<-done

	if d.Dropped() < 1 {
		t.Fatalf("Dropped = %d, want >= 1", d.Dropped())
	}
	for _, s := range a.messages() {
		if s.Text != DefaultBusyText {
			t.Fatalf("unexpected message %q", s.Text)
		}
	}
}

// stallingAdapter blocks every send until release is closed or ctx ends.
type stallingAdapter struct {
	*fakeAdapter
	release chan struct{}
}

func (a *stallingAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	select {
	case <-a.release:
	case <-ctx.Done():
		return kit.MessageRef{}, ctx.Err()
	}
	return a.fakeAdapter.SendText(ctx, to, text, opt)
}

func TestBusyNoticeDoesNotStallRouting(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{})}
	a := &stallingAdapter{fakeAdapter: newFakeAdapter(), release: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1}, h, a, logx.Nop())

	updates := make(chan kit.Update)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, updates) }()

	// every message past the second is dropped while sends are stuck
	for i := 1; i <= 10; i++ {
		select {
		case updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: i, ChatID: 1}}:
		case <-time.After(time.Second):
			t.Fatalf("routing stalled at message %d", i)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if d.Dropped() < 8 {
		t.Fatalf("Dropped = %d, want >= 8", d.Dropped())
	}

	close(a.release)
	deadline := time.Now().Add(2 * time.Second)
	for len(a.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	close(h.release)
	<-done
	if n := len(a.messages()); n == 0 || n > maxBusySends {
		t.Fatalf("busy notices sent = %d, want 1..%d", n, maxBusySends)
	}
}

func TestShardStable(t *testing.T) {
	for _, id := range []int64{-1001234567890, 0, 1, 42} {
		a, b := shard(id, 7), shard(id, 7)
		if a != b || a < 0 || a >= 7 {
			t.Fatalf("shard(%d) = %d, %d", id, a, b)
		}
	}
}

package relay

import (
	"context"
	"sync"

	kit "relaybot/internal/transport"
)

type sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

type fakeAdapter struct {
	self kit.Identity

	mu     sync.Mutex
	nextID int
	sent   []sent
	typing int
	// parts > 1 makes SendText report that many chunk ids per send
	parts int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{self: kit.Identity{ID: 999, Username: "relay_bot"}, nextID: 1000}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (f *fakeAdapter) Self() kit.Identity                                     { return f.self }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s := sent{To: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	f.sent = append(f.sent, s)
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	if f.parts > 1 {
		ref.Parts = []int{f.nextID}
		for i := 1; i < f.parts; i++ {
			f.nextID++
			ref.Parts = append(ref.Parts, f.nextID)
		}
	}
	return ref, nil
}

func (f *fakeAdapter) Typing(ctx context.Context, to kit.ChatTarget) error {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

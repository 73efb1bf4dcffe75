package memory

import (
	"strings"
	"sync"
)

// Buffer is the ordered, in-memory conversation log. Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
}

func NewBuffer() *Buffer { return &Buffer{} }

// Append adds entries in order and returns the new size in characters.
func (b *Buffer) Append(entries ...Entry) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.entries = append(b.entries, e)
		b.size += e.Size()
	}
	return b.size
}

// Len is the rendered size in characters.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Drain empties the buffer and returns its text and entries.
func (b *Buffer) Drain() (string, []Entry) {
	b.mu.Lock()
	entries := b.entries
	b.entries = nil
	b.size = 0
	b.mu.Unlock()
	return Render(entries), entries
}

// Restore puts entries back in front of anything appended since they were
// drained. With maxChars > 0 the oldest entries are dropped until the buffer
// fits; the number dropped is returned.
func (b *Buffer) Restore(entries []Entry, maxChars int) int {
	if len(entries) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]Entry, 0, len(entries)+len(b.entries))
	merged = append(merged, entries...)
	merged = append(merged, b.entries...)
	size := b.size
	for _, e := range entries {
		size += e.Size()
	}
	dropped := 0
	if maxChars > 0 {
		for len(merged) > 1 && size > maxChars {
			size -= merged[0].Size()
			merged = merged[1:]
			dropped++
		}
	}
	b.entries = merged
	b.size = size
	return dropped
}

// Entries returns a copy of the buffered entries.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

// Render joins the rendered entries into one text block.
func Render(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Render())
	}
	return sb.String()
}

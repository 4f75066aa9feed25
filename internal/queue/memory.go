package queue

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	msg       Message
	visibleAt time.Time
	seq       int
}

// MemoryQueue is an in-process Queue with the same lease semantics as the
// Redis implementation. The clock is injectable so tests can expire leases.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	seq     int
	now     func() time.Time

	// Receives counts Receive calls, including empty ones.
	Receives int
	// Deletes counts successful acknowledgements.
	Deletes int
}

// NewMemoryQueue returns an empty MemoryQueue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Send(_ context.Context, body string, attributes map[string]string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := uuid.NewString()
	q.entries[id] = &memoryEntry{
		msg:       Message{ID: id, Body: body, Attributes: maps.Clone(attributes)},
		visibleAt: q.now().Add(delay),
		seq:       q.seq,
	}
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, lease, wait time.Duration) (*Message, error) {
	return waitForMessage(ctx, wait, func() (*Message, error) {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.Receives++

		now := q.now()
		var visible []*memoryEntry
		for _, e := range q.entries {
			if !e.visibleAt.After(now) {
				visible = append(visible, e)
			}
		}
		if len(visible) == 0 {
			return nil, nil
		}
		sort.Slice(visible, func(i, j int) bool { return visible[i].seq < visible[j].seq })

		e := visible[0]
		e.visibleAt = now.Add(lease)
		e.msg.ReceiveCount++
		e.msg.ReceiptHandle = fmt.Sprintf("%s:%s", e.msg.ID, uuid.NewString())

		out := e.msg
		out.Attributes = maps.Clone(e.msg.Attributes)
		return &out, nil
	})
}

func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, e := range q.entries {
		if e.msg.ReceiptHandle == receiptHandle {
			delete(q.entries, id)
			q.Deletes++
			return nil
		}
	}
	return ErrReceiptExpired
}

// Len returns the number of messages not yet deleted, visible or not
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Messages returns a snapshot of every stored message in send order
func (q *MemoryQueue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]*memoryEntry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.msg)
	}
	return out
}

var _ Queue = (*MemoryQueue)(nil)

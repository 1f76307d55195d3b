// Package queue implements the bounded ingress-to-fanout packet queue
// described in SPEC_FULL.md §4.3. A buffered channel is the idiomatic Go
// substitute for the crossbeam SegQueue the original implementation used:
// the channel's fixed capacity doubles as the high-water mark, and a
// non-blocking send gives the drop-on-full behavior the spec calls for
// without any extra bookkeeping.
package queue

import (
	"context"
	"sync/atomic"

	"github.com/ottopia-tech/rtp-fanout-server/pkg/rtp"
)

// Item is one queued datagram: its parsed packet plus the SSRC it belongs
// to, so the fan-out worker never has to re-derive routing state.
type Item struct {
	SSRC   uint32
	Packet *rtp.Packet
}

// Queue is a bounded MPMC queue of Items. Safe for concurrent Push and Pop
// from any number of goroutines.
type Queue struct {
	ch      chan Item
	dropped atomic.Uint64
	pushed  atomic.Uint64
}

// New creates a Queue with the given capacity. Capacity is the
// buffer_size configuration value and is also the queue's high-water mark:
// once full, Push drops the item rather than blocking the ingress loop.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Item, capacity)}
}

// Push attempts to enqueue item without blocking. Returns false if the
// queue is full, in which case the caller is expected to count the drop
// and move on — the ingress loop must never block on a slow fan-out side.
func (q *Queue) Push(item Item) bool {
	select {
	case q.ch <- item:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop blocks until an item is available or ctx is done. Returns false if
// ctx was cancelled first.
func (q *Queue) Pop(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.ch:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// TryPop returns an item without blocking. Returns false if the queue is
// currently empty.
func (q *Queue) TryPop() (Item, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		return Item{}, false
	}
}

// Len returns the number of items currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue's configured capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the cumulative count of items rejected by Push because
// the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Pushed returns the cumulative count of items successfully enqueued.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

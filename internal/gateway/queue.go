package gateway

import (
	"context"
	"sync/atomic"
)

// DefaultQueueDepth bounds audio queues at roughly 8 s of 80 ms chunks.
const DefaultQueueDepth = 100

// BoundedQueue is a fixed-capacity audio chunk queue. When full, Push drops
// the oldest chunk and counts it: in a real-time path, stale audio is worth
// less than fresh audio, and blocking the producer stalls the whole call.
type BoundedQueue struct {
	ch      chan []byte
	dropped atomic.Uint64
}

// NewBoundedQueue creates a queue holding at most depth chunks.
func NewBoundedQueue(depth int) *BoundedQueue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &BoundedQueue{ch: make(chan []byte, depth)}
}

// Push enqueues chunk, evicting the oldest entry when full.
func (q *BoundedQueue) Push(chunk []byte) {
	for {
		select {
		case q.ch <- chunk:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks until a chunk is available or ctx is cancelled.
func (q *BoundedQueue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-q.ch:
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryPop returns the next chunk without blocking; ok is false when empty.
func (q *BoundedQueue) TryPop() (chunk []byte, ok bool) {
	select {
	case chunk = <-q.ch:
		return chunk, true
	default:
		return nil, false
	}
}

// Drain discards all queued chunks without counting them as drops. Used on
// barge-in to clear pending outbound audio.
func (q *BoundedQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the current queue depth.
func (q *BoundedQueue) Len() int { return len(q.ch) }

// Dropped returns the number of chunks evicted by overflow.
func (q *BoundedQueue) Dropped() uint64 { return q.dropped.Load() }

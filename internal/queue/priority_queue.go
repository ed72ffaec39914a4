// Package queue provides the in-process buffer between ingest and the
// delivery workers.
package queue

import (
	"context"
	"fmt"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Per-tier buffer sizes. HIGH stays small so back-pressure surfaces
// quickly, NORMAL carries the bulk of the traffic, and LOW absorbs
// background volume.
const (
	highBuffer   = 1000
	normalBuffer = 5000
	lowBuffer    = 2000
)

// PriorityQueue fans items out to one buffered channel per priority tier.
type PriorityQueue struct {
	high   chan Item
	normal chan Item
	low    chan Item
}

func New() *PriorityQueue {
	return &PriorityQueue{
		high:   make(chan Item, highBuffer),
		normal: make(chan Item, normalBuffer),
		low:    make(chan Item, lowBuffer),
	}
}

// lane maps a priority to its channel; nil for an unknown priority.
func (q *PriorityQueue) lane(p domain.Priority) chan Item {
	switch p {
	case domain.PriorityHigh:
		return q.high
	case domain.PriorityNormal:
		return q.normal
	case domain.PriorityLow:
		return q.low
	}
	return nil
}

// Enqueue places an item on its priority lane without blocking: a full lane
// returns ErrQueueFull immediately so the ingest path stays responsive.
func (q *PriorityQueue) Enqueue(item Item) error {
	lane := q.lane(item.Priority)
	if lane == nil {
		return fmt.Errorf("unknown priority %q", item.Priority)
	}
	select {
	case lane <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled, returning
// ok=false on cancellation. High-priority items are always served first: a
// non-blocking read drains the high lane before the call falls into a fair
// blocking select across all three lanes, so workers sleep instead of
// spinning while high never starves.
func (q *PriorityQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.high:
		return item, true
	default:
	}

	select {
	case item := <-q.high:
		return item, true
	case item := <-q.normal:
		return item, true
	case item := <-q.low:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths reports the number of waiting items per tier, for the queue-depth
// gauges and the JSON metrics snapshot.
func (q *PriorityQueue) Depths() (high, normal, low int) {
	return len(q.high), len(q.normal), len(q.low)
}

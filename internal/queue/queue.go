// Package queue provides the bounded FIFO handoff between the session's I/O
// loops and application code.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrClosed is returned by Push after Close, and by Pop once the queue is
	// closed and drained.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by Push under PolicyDropNewest when there is no room.
	ErrFull = errors.New("queue full")
)

// Policy selects what Push does when the queue is at capacity.
type Policy int

const (
	PolicyBlock      Policy = iota // wait for room, Close, or ctx
	PolicyDropNewest               // reject the new item with ErrFull
	PolicyDropOldest               // evict the oldest item to make room
)

func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropNewest:
		return "drop-newest"
	case PolicyDropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "block":
		return PolicyBlock, nil
	case "drop-newest", "drop_newest", "newest":
		return PolicyDropNewest, nil
	case "drop-oldest", "drop_oldest", "oldest":
		return PolicyDropOldest, nil
	default:
		return PolicyBlock, fmt.Errorf("unknown overflow policy %q", raw)
	}
}

// Queue is a bounded multi-producer/multi-consumer FIFO. Items pushed before
// Close are still delivered by Pop; Close only stops new pushes and wakes
// consumers once the backlog is gone.
type Queue[T any] struct {
	items  chan T
	done   chan struct{}
	policy Policy

	// Pushers hold closeMu for reading while they may still land an item; a
	// consumer that finds the queue closed and empty takes it for writing so
	// nothing lands after it gives up.
	closeMu   sync.RWMutex
	closeOnce sync.Once
	dropped   uint64
	mu        sync.Mutex // guards dropped and serializes drop-oldest evictions
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int, policy Policy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:  make(chan T, capacity),
		done:   make(chan struct{}),
		policy: policy,
	}
}

// Push enqueues v according to the queue's policy. Under PolicyBlock it waits
// for room, returning ctx.Err() or ErrClosed if either fires first. A nil
// return means v will be delivered by Pop, even if Close follows at once.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()

	if q.Closed() {
		return ErrClosed
	}

	switch q.policy {
	case PolicyDropNewest:
		select {
		case q.items <- v:
			return nil
		default:
			q.countDrop()
			return ErrFull
		}

	case PolicyDropOldest:
		q.mu.Lock()
		defer q.mu.Unlock()
		for {
			select {
			case q.items <- v:
				return nil
			default:
			}
			select {
			case <-q.items:
				q.dropped++
			default:
			}
		}

	default:
		select {
		case q.items <- v:
			return nil
		default:
		}
		select {
		case q.items <- v:
			return nil
		case <-q.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes the oldest item, waiting until one is available. After Close
// it keeps returning buffered items and then ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	select {
	case v := <-q.items:
		return v, nil
	default:
	}

	select {
	case v := <-q.items:
		return v, nil
	case <-q.done:
		// Wait out pushes that started before Close.
		q.closeMu.Lock()
		defer q.closeMu.Unlock()
		select {
		case v := <-q.items:
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }

// Dropped returns how many items the overflow policy has discarded.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) countDrop() {
	q.mu.Lock()
	q.dropped++
	q.mu.Unlock()
}

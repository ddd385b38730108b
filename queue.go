package main

import (
	"context"
	"sync"
	"time"
)

// Queue is a guild's FIFO of pending and resolved tracks. Any number of
// goroutines may Put; a single consumer calls Get.
type Queue struct {
	tracks []Track
	closed bool
	mut    sync.Mutex
	ready  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		tracks: make([]Track, 0),
		ready:  make(chan struct{}, 1),
	}
}

// Put appends to the tail. It never blocks and only fails once the queue
// has been closed.
func (q *Queue) Put(t Track) error {
	q.mut.Lock()
	if q.closed {
		q.mut.Unlock()
		return ErrQueueClosed
	}
	q.tracks = append(q.tracks, t)
	q.mut.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Get removes and returns the head track, waiting up to idle for one to
// arrive. When the wait expires on an empty queue the queue is closed in
// the same critical section, so a concurrent Put either lands before the
// deadline check (and is returned) or fails with ErrQueueClosed.
func (q *Queue) Get(ctx context.Context, idle time.Duration) (Track, error) {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		t, ok, err := q.pop()
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			q.mut.Lock()
			defer q.mut.Unlock()
			if len(q.tracks) > 0 {
				return q.popLocked(), nil
			}
			q.closed = true
			return nil, ErrQueueIdle
		}
	}
}

func (q *Queue) pop() (Track, bool, error) {
	q.mut.Lock()
	defer q.mut.Unlock()
	if q.closed {
		return nil, false, ErrQueueClosed
	}
	if len(q.tracks) == 0 {
		return nil, false, nil
	}
	return q.popLocked(), true, nil
}

func (q *Queue) popLocked() Track {
	t := q.tracks[0]
	q.tracks[0] = nil
	q.tracks = q.tracks[1:]
	return t
}

// Peek returns up to n tracks from the head without removing them.
func (q *Queue) Peek(n int) []Track {
	q.mut.Lock()
	defer q.mut.Unlock()
	if n > len(q.tracks) {
		n = len(q.tracks)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Track, n)
	copy(out, q.tracks[:n])
	return out
}

func (q *Queue) Len() int {
	q.mut.Lock()
	defer q.mut.Unlock()
	return len(q.tracks)
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Close rejects further puts and returns whatever was still queued.
func (q *Queue) Close() []Track {
	q.mut.Lock()
	defer q.mut.Unlock()
	q.closed = true
	rest := q.tracks
	q.tracks = nil
	return rest
}

func (q *Queue) Closed() bool {
	q.mut.Lock()
	defer q.mut.Unlock()
	return q.closed
}

// Package watch feeds tree changes back into highlighting and paces the
// loading of unloaded replies. Everything that touches a page's tree runs on
// that page's Queue.
package watch

import (
	"context"
	"sync"
	"time"
)

// Queue is a single-consumer task queue. Tasks run one at a time, in the
// order they were posted, on the goroutine that calls Run.
type Queue struct {
	wake  chan struct{}
	stop  chan struct{}
	tasks []func()
	mu    sync.Mutex
	once  sync.Once
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Post schedules fn for a later turn. It is safe to call from any goroutine.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PostAfter schedules fn once d has elapsed.
func (q *Queue) PostAfter(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { q.Post(fn) })
}

// Stop makes Run return after the current task.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stop) })
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, true
}

// Run executes tasks until Stop is called or ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-q.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if fn, ok := q.next(); ok {
			fn()
			continue
		}

		select {
		case <-q.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

package client

import (
	"sync"
	"sync/atomic"
)

const queueSize = 1024

// queue runs tasks one at a time in submission order. The worker goroutine
// is started by the first push.
type queue struct {
	once    sync.Once
	started atomic.Bool
	tasks   chan func()
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newQueue() *queue {
	return &queue{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
}

func (q *queue) run() {
	defer close(q.done)
	for task := range q.tasks {
		task()
	}
}

// push schedules task and returns a channel closed once it has run. It
// returns nil when the queue has been closed.
func (q *queue) push(task func()) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.once.Do(func() {
		q.started.Store(true)
		go q.run()
	})

	finished := make(chan struct{})
	q.tasks <- func() {
		defer close(finished)
		task()
	}
	return finished
}

// close stops accepting tasks and waits for the scheduled ones to finish.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	if q.started.Load() {
		<-q.done
	}
}

package testomatio

import (
	"sync"
	"time"
)

// batch buffers tests between timer-driven flushes. The buffer is swapped out
// together with the batch index in a single critical section.
type batch struct {
	enabled  bool
	interval time.Duration
	// consecutive empty flushes after which the timer stops
	maxEmpty int

	mu      sync.Mutex
	tests   []testPayload
	index   int
	empty   int
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func newBatch(enabled bool, interval time.Duration, maxEmpty int) *batch {
	return &batch{
		enabled:  enabled,
		interval: interval,
		maxEmpty: maxEmpty,
	}
}

// start launches the flush timer. flush is called from the timer goroutine
// with every non-empty drained buffer.
func (b *batch) start(flush func(tests []testPayload, index int)) {
	if !b.enabled || b.interval <= 0 {
		return
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.empty = 0
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	stop, done := b.stop, b.done
	b.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tests, index, keep := b.tick()
				if len(tests) > 0 {
					flush(tests, index)
				}
				if !keep {
					return
				}
			}
		}
	}()
}

// tick drains the buffer for a timer flush. keep is false once the timer has
// seen more than maxEmpty consecutive empty buffers; the timer is then
// marked stopped in the same critical section so later adds flush directly.
func (b *batch) tick() (tests []testPayload, index int, keep bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tests) == 0 {
		b.empty++
		if b.maxEmpty > 0 && b.empty > b.maxEmpty {
			b.running = false
			return nil, 0, false
		}
		return nil, 0, true
	}
	b.empty = 0
	tests, index = b.drainLocked()
	return tests, index, true
}

// add buffers t. It returns false when the timer is not running; the caller
// must then flush right away.
func (b *batch) add(t testPayload) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tests = append(b.tests, t)
	return b.running
}

// take drains the buffer.
func (b *batch) take() ([]testPayload, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

func (b *batch) drainLocked() ([]testPayload, int) {
	if len(b.tests) == 0 {
		return nil, b.index
	}
	tests := b.tests
	b.tests = nil
	b.index++
	return tests, b.index
}

// halt stops the timer and waits for an in-flight timer flush to finish.
func (b *batch) halt() {
	b.mu.Lock()
	stop, done := b.stop, b.done
	wasRunning := b.running
	b.running = false
	b.stop = nil
	b.mu.Unlock()

	if wasRunning && stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
}

func (b *batch) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

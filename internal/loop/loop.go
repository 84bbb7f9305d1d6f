// Package loop provides the single-threaded execution context owned by
// each local destination.
//
// Functions posted to a Loop run one at a time, in the order they were
// posted, on the goroutine that called Run. State that is only touched from
// posted functions needs no further locking.
package loop

import (
	"context"
	"sync"
)

// Loop is a FIFO queue of functions drained by a single goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	started bool
	done    chan struct{}
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post schedules fn to run on the loop. It never blocks. Functions posted
// after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.post(fn)
}

func (l *Loop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits for it to finish. It returns false if fn was
// not run; once it has, no posted function is running or will run again.
// A loop that was stopped before Run never runs anything. Calling it from
// the loop goroutine deadlocks.
func (l *Loop) Call(fn func()) bool {
	ran := make(chan struct{})
	if !l.post(func() {
		fn()
		close(ran)
	}) {
		l.mu.Lock()
		started := l.started
		l.mu.Unlock()
		if started {
			<-l.done
		}
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Run drains the queue until ctx is done or Stop is called. Functions
// still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()

	defer close(l.done)
	defer l.Stop()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		if stopped {
			return
		}

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Stop discards queued functions and makes Run return once the batch it is
// currently executing, if any, has finished.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

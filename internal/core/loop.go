package core

import "context"

// Loop is the cooperative scheduler at the center of the client core:
// every store mutation runs as a task on a single goroutine, so stores
// need no locks and no partial mutation is ever observable. Network I/O
// and timers live on other goroutines and post back here.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

// NewLoop constructs a loop; call Run to start draining tasks.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Run drains tasks until the context is cancelled. It must be called
// exactly once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Do schedules fn for execution on the loop, preserving submission
// order. After the loop has stopped, tasks are silently discarded.
func (l *Loop) Do(fn func()) {
	select {
	case <-l.done:
	case l.tasks <- fn:
	}
}

// DoWait schedules fn and blocks until it has run (or the loop has
// stopped). Must not be called from a task already running on the loop.
func (l *Loop) DoWait(fn func()) {
	ran := make(chan struct{})
	l.Do(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-l.done:
	}
}

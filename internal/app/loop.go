package app

import (
	"context"
	"sync"
)

// Dispatcher runs functions on the interactive context, in submission order
type Dispatcher interface {
	Do(fn func())
}

// Loop is a Dispatcher backed by a single goroutine. It stands in for the
// GUI main thread in command line and test use.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Run processes queued functions until Stop is called or ctx ends
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-ctx.Done():
			return
		case <-l.done:
			return
		}
	}
}

// Do queues fn. Functions queued after Stop are dropped.
func (l *Loop) Do(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// Sync runs fn on the loop and waits for it to return
func (l *Loop) Sync(fn func()) {
	finished := make(chan struct{})
	l.Do(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
	case <-l.done:
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Background workers: each owns one goroutine, takes requests over a channel
// and reports progress as events. Workers never touch gallery state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrBusy is returned by Submit when the worker queue is full
	ErrBusy = errors.New("worker is busy")
	// ErrClosed is returned by Submit after Shutdown
	ErrClosed = errors.New("worker is shut down")
)

// EventKind is the lifecycle stage an Event reports
type EventKind int

const (
	Started EventKind = iota
	Succeeded
	Failed
	Finished
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event reports progress of one request. Result is set on Succeeded, Err on
// Failed. Every request yields Started, then Succeeded or Failed, then
// Finished.
type Event[R any] struct {
	Worker string
	Kind   EventKind
	Result R
	Err    error
}

// Handler processes one request on the worker goroutine
type Handler[Q, R any] func(ctx context.Context, req Q) (R, error)

// Worker runs a Handler for queued requests one at a time, in FIFO order
type Worker[Q, R any] struct {
	name     string
	capacity int
	handler  Handler[Q, R]
	logger   logrus.FieldLogger

	requests chan Q
	events   chan Event[R]
	done     chan struct{}

	mu      sync.Mutex
	pending int
	closed  bool
	started bool
}

// New creates a worker accepting up to capacity requests at once. A capacity
// of one makes it single-flight: Submit fails while a request is in progress.
func New[Q, R any](name string, capacity int, handler Handler[Q, R], logger logrus.FieldLogger) *Worker[Q, R] {
	if capacity < 1 {
		capacity = 1
	}
	return &Worker[Q, R]{
		name:     name,
		capacity: capacity,
		handler:  handler,
		logger:   logger.WithField("worker", name),
		requests: make(chan Q, capacity),
		events:   make(chan Event[R], 4*capacity+4),
		done:     make(chan struct{}),
	}
}

func (w *Worker[Q, R]) Name() string {
	return w.name
}

// Events returns the event stream. It is closed once the worker has stopped.
// The stream must be drained, otherwise the worker blocks.
func (w *Worker[Q, R]) Events() <-chan Event[R] {
	return w.events
}

// Start launches the worker goroutine. Calling it twice has no effect.
func (w *Worker[Q, R]) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run(ctx)
}

// Submit queues req without blocking
func (w *Worker[Q, R]) Submit(req Q) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.pending >= w.capacity {
		return ErrBusy
	}
	w.pending++
	w.requests <- req
	return nil
}

// Busy reports whether any request is queued or running
func (w *Worker[Q, R]) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending > 0
}

// Shutdown stops accepting requests and waits for queued ones to finish.
// When ctx expires first the remaining work is abandoned and ctx.Err is
// returned.
func (w *Worker[Q, R]) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.requests)
	}
	if !w.started {
		// the goroutine still has to close the event stream
		w.started = true
		go w.run(context.Background())
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("Shutdown timed out, abandoning running work")
		return fmt.Errorf("%s worker: %w", w.name, ctx.Err())
	}
}

func (w *Worker[Q, R]) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	w.logger.Debug("Worker started")
	for req := range w.requests {
		w.process(ctx, req)
	}
	w.logger.Debug("Worker stopped")
}

func (w *Worker[Q, R]) process(ctx context.Context, req Q) {
	w.emit(Event[R]{Kind: Started})

	defer func() {
		w.mu.Lock()
		w.pending--
		w.mu.Unlock()
		w.emit(Event[R]{Kind: Finished})
	}()

	result, err := w.call(ctx, req)
	if err != nil {
		w.logger.WithError(err).Error("Request failed")
		w.emit(Event[R]{Kind: Failed, Err: err})
		return
	}
	w.emit(Event[R]{Kind: Succeeded, Result: result})
}

func (w *Worker[Q, R]) call(ctx context.Context, req Q) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Recovered from panic in worker")
			err = fmt.Errorf("%s worker panicked: %v", w.name, r)
		}
	}()
	return w.handler(ctx, req)
}

func (w *Worker[Q, R]) emit(ev Event[R]) {
	ev.Worker = w.name
	w.events <- ev
}

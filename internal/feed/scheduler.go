package feed

import (
	"context"
	"log/slog"
	"sync"
)

// Scheduler defers a task to a later turn. A deferred task never runs
// inside the call that scheduled it.
type Scheduler interface {
	Defer(task func())
}

// EventLoop runs deferred tasks one at a time, in the order they were
// scheduled, on a single goroutine
type EventLoop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running bool
	doneCh  chan struct{}
}

// NewEventLoop creates a stopped event loop
func NewEventLoop(logger *slog.Logger) *EventLoop {
	return &EventLoop{
		logger: logger.With("component", "event_loop"),
		wake:   make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

// Start runs the loop until ctx is cancelled
func (l *EventLoop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.run(ctx)
}

// Done is closed once the loop has exited
func (l *EventLoop) Done() <-chan struct{} {
	return l.doneCh
}

// Defer queues task for the next turn. It never blocks and is safe to call
// from inside a running task.
func (l *EventLoop) Defer(task func()) {
	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *EventLoop) run(ctx context.Context) {
	defer close(l.doneCh)

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("event loop stopped", "pending", l.pending())
			return
		case <-l.wake:
		}

		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.runTask(task)
		}
	}
}

func (l *EventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *EventLoop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// runTask isolates a panicking callback from the rest of the queue
func (l *EventLoop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("deferred task panicked", "panic", r)
		}
	}()
	task()
}

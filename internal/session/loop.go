package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loop serializes transport callbacks and caller actions onto a single
// goroutine. Its queue is unbounded so Post never blocks, which lets a
// transport deliver callbacks from inside a call the loop itself made.
//
// Invariant: queued functions run one at a time, in Post order.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewLoop creates a Loop that accepts work immediately; work runs once
// Start is called.
//
// Precondition: logger must be non-nil.
func NewLoop(logger *zap.Logger) *Loop {
	return &Loop{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post enqueues fn.
//
// Postcondition: Returns false, discarding fn, if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
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

// Call runs fn on the loop and waits for it to return.
//
// Precondition: must not be called from the loop goroutine.
// Postcondition: Returns nil once fn has run, ctx.Err() if ctx ends first, or
// ErrLoopClosed if the loop stops before fn runs.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// fn may have completed just before the loop stopped.
		select {
		case <-done:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// Start drains the queue until Stop is called. Pending work is discarded on
// stop.
func (l *Loop) Start() error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return nil
		}
		for _, fn := range batch {
			if l.isClosed() {
				return nil
			}
			l.run(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.stopped:
			return nil
		}
	}
}

// Stop halts the loop. Calling Stop more than once is harmless.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.stopped)
	})
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("session loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

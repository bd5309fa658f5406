package engine

import (
	"context"
	"sync"
)

// Runner tracks in-flight chain executions by event id.
//
// Chains for different events run fully in parallel; the runner exists
// so a correction can set the cancellation marker and then wait for the
// original event's chain to observe it and exit. It also collapses
// duplicate dispatches: at most one chain runs per event at a time.
//
// Thread-safety: all methods are safe for concurrent use.
type Runner struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}
	closed   bool
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{inflight: make(map[string]chan struct{})}
}

// Begin registers a chain execution for an event. It returns a release
// func the chain must call when it exits, and false when a chain for the
// same event is already in flight or the runner is closed.
func (r *Runner) Begin(eventID string) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}
	if _, running := r.inflight[eventID]; running {
		return nil, false
	}

	done := make(chan struct{})
	r.inflight[eventID] = done

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.inflight, eventID)
			r.mu.Unlock()
			close(done)
		})
	}
	return release, true
}

// Wait blocks until no chain is in flight for the event, or the context
// is cancelled. Returns immediately when nothing is running.
func (r *Runner) Wait(ctx context.Context, eventID string) error {
	r.mu.Lock()
	done, running := r.inflight[eventID]
	r.mu.Unlock()

	if !running {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a chain is currently in flight for the event.
func (r *Runner) Running(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, running := r.inflight[eventID]
	return running
}

// Close rejects further Begin calls. In-flight chains finish normally.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// WaitAll blocks until every in-flight chain has exited or the context
// is cancelled. Intended for shutdown after Close.
func (r *Runner) WaitAll(ctx context.Context) error {
	for {
		r.mu.Lock()
		var done chan struct{}
		for _, ch := range r.inflight {
			done = ch
			break
		}
		r.mu.Unlock()

		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

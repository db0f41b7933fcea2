// Package control provides the single cancellation signal shared by one
// scheduler invocation and every worker it fans out.
package control

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is a single abort signal for one Scheduler.Execute call. It is
// propagated by reference into every worker so that a cancel observed by
// one goroutine is visible to all of them without additional locking.
//
// Workers must call CheckCancelled (or select on Done) at the first safe
// point after a suspension point: before starting a task, and after a
// capture step that cannot be interrupted mid-flight (see isolation
// package for the worktree/overlay capture boundary).
type Token struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewToken creates a fresh, un-cancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel fires the signal. Safe to call multiple times and from multiple
// goroutines; only the first call has effect.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.once.Do(func() { close(t.done) })
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Done returns a channel that is closed when Cancel is called. A nil
// token's Done channel never closes, matching a context.Background()
// that is never cancelled.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Err returns context.Canceled once the token has fired, nil otherwise,
// so callers can reuse the same error-propagation idioms as context.Context.
func (t *Token) Err() error {
	if t.IsCancelled() {
		return context.Canceled
	}
	return nil
}

package core

import (
	"context"
	"sync"
)

// CancelableClosure wraps a function so that a pending deferred invocation can
// be withdrawn. A later event that makes the deferred action moot must cancel
// it before it fires; firing after cancellation is a no-op. Cancel is safe to
// call repeatedly and after the closure has already run.
//
// Each scheduled deferred action gets its own CancelableClosure; the closure
// is one-shot and is not rearmed after running.
type CancelableClosure struct {
	mu       sync.Mutex
	fn       func()
	canceled bool
	ran      bool
}

// NewCancelableClosure wraps fn.
func NewCancelableClosure(fn func()) *CancelableClosure {
	return &CancelableClosure{fn: fn}
}

// Cancel withdraws the pending invocation.
func (c *CancelableClosure) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = true
	c.fn = nil
}

// IsCanceled reports whether Cancel has been called.
func (c *CancelableClosure) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// Task returns a Task that runs the wrapped function unless canceled. The
// closure runs at most once even if the returned Task is posted several times.
func (c *CancelableClosure) Task() Task {
	return func(ctx context.Context) {
		c.mu.Lock()
		if c.canceled || c.ran || c.fn == nil {
			c.mu.Unlock()
			return
		}
		c.ran = true
		fn := c.fn
		c.fn = nil
		c.mu.Unlock()
		fn()
	}
}

// tryRun transitions the closure to its run state, returning false if it was
// canceled or has already run. Used when the guarded work lives outside the
// closure itself.
func (c *CancelableClosure) tryRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled || c.ran {
		return false
	}
	c.ran = true
	return true
}

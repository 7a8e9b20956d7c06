// Package admission bounds the number of in-flight proxy streams.
//
// The controller is a non-queueing load shedder: when the ceiling is
// reached, TryAcquire fails immediately so the caller can return 503
// with Retry-After instead of building a queue of waiting clients.
package admission

import "sync/atomic"

// Controller tracks in-flight proxy operations against a fixed ceiling.
type Controller struct {
	active atomic.Int64
	max    int64
}

// NewController creates a Controller with the given concurrency ceiling.
func NewController(maxConcurrent int) *Controller {
	return &Controller{max: int64(maxConcurrent)}
}

// TryAcquire claims a slot. It never blocks: when all slots are taken
// it returns false and leaves the count unchanged.
func (c *Controller) TryAcquire() bool {
	for {
		cur := c.active.Load()
		if cur >= c.max {
			return false
		}
		if c.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a slot. It must be called exactly once per successful
// TryAcquire, from a deferred path so every exit releases.
func (c *Controller) Release() {
	c.active.Add(-1)
}

// Snapshot reports the current in-flight count and the ceiling.
func (c *Controller) Snapshot() (active, max int64) {
	return c.active.Load(), c.max
}

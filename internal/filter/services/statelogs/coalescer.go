package statelogs

import (
	"sync"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
)

// notifyInterval is the minimum spacing between observer notifications of
// the same kind.
const notifyInterval = time.Second

// coalescer rate-limits one kind of notification: the first trigger after a
// quiet period fires immediately, further triggers inside the window fold
// into a single deferred one-shot.
type coalescer struct {
	clk   clock.Clock
	sched clock.Scheduler
	fire  func()

	mu        sync.Mutex
	last      time.Time
	everFired bool
	pending   clock.Timer
}

func newCoalescer(clk clock.Clock, sched clock.Scheduler, fire func()) *coalescer {
	return &coalescer{clk: clk, sched: sched, fire: fire}
}

func (c *coalescer) trigger() {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return
	}
	now := c.clk.Now()
	elapsed := now.Sub(c.last)
	if !c.everFired || elapsed >= notifyInterval {
		c.last = now
		c.everFired = true
		c.mu.Unlock()
		c.fire()
		return
	}
	c.pending = c.sched.AfterFunc(notifyInterval-elapsed, func() {
		c.mu.Lock()
		c.pending = nil
		c.last = c.clk.Now()
		c.mu.Unlock()
		c.fire()
	})
	c.mu.Unlock()
}

// stop cancels any deferred notification.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

package statelogs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
)

func newTestCoalescer() (*coalescer, *clock.MockClock, *clock.MockScheduler, *int) {
	clk := &clock.MockClock{}
	clk.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	sched := &clock.MockScheduler{}
	fired := 0
	c := newCoalescer(clk, sched, func() { fired++ })
	return c, clk, sched, &fired
}

func TestCoalescer_FirstTriggerFiresImmediately(t *testing.T) {
	c, _, _, fired := newTestCoalescer()
	c.trigger()
	assert.Equal(t, 1, *fired)
}

func TestCoalescer_BurstFoldsIntoOneDeferredCall(t *testing.T) {
	c, _, sched, fired := newTestCoalescer()

	for i := 0; i < 10; i++ {
		c.trigger()
	}
	assert.Equal(t, 1, *fired)

	sched.Advance(time.Second)
	assert.Equal(t, 2, *fired)

	sched.Advance(time.Minute)
	assert.Equal(t, 2, *fired)
}

func TestCoalescer_QuietPeriodRestoresImmediateFiring(t *testing.T) {
	c, clk, sched, fired := newTestCoalescer()

	c.trigger()
	assert.Equal(t, 1, *fired)

	clk.Advance(2 * time.Second)
	c.trigger()
	assert.Equal(t, 2, *fired)
	assert.Equal(t, 0, sched.Pending())
}

func TestCoalescer_DeferredCallRespectsMinimumSpacing(t *testing.T) {
	c, clk, sched, fired := newTestCoalescer()

	c.trigger()
	clk.Advance(600 * time.Millisecond)
	c.trigger()
	assert.Equal(t, 1, *fired)

	// The deferred call lands at the one-second mark, not later.
	sched.Advance(400 * time.Millisecond)
	assert.Equal(t, 2, *fired)
}

func TestCoalescer_StopCancelsDeferredCall(t *testing.T) {
	c, _, sched, fired := newTestCoalescer()

	c.trigger()
	c.trigger()
	c.stop()

	sched.Advance(time.Minute)
	assert.Equal(t, 1, *fired)
}

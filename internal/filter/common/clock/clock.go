package clock

import (
	"sort"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (c RealClock) Now() time.Time {
	return time.Now()
}

// Timer is a handle to a scheduled callback. Stop cancels the callback;
// a stopped timer never fires afterwards.
type Timer interface {
	Stop()
}

// Scheduler runs callbacks after a delay. Deadlines are explicit and
// cancellable so owners can observe that a stopped timer did not fire.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type RealScheduler struct{}

func (s RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) Stop() {
	rt.t.Stop()
}

type MockClock struct {
	currentTime time.Time
}

func (c *MockClock) Now() time.Time {
	return c.currentTime
}

func (c *MockClock) Advance(d time.Duration) {
	c.currentTime = c.currentTime.Add(d)
}

func (c *MockClock) Set(t time.Time) {
	c.currentTime = t
}

// MockScheduler queues callbacks and fires them when advanced past their
// deadline, in deadline order. It keeps its own elapsed time, independent
// of any MockClock the test also uses.
type MockScheduler struct {
	mu      sync.Mutex
	elapsed time.Duration
	next    int
	timers  []*mockTimer
}

type mockTimer struct {
	s        *MockScheduler
	id       int
	deadline time.Duration
	f        func()
	stopped  bool
	fired    bool
}

func (mt *mockTimer) Stop() {
	mt.s.mu.Lock()
	mt.stopped = true
	mt.s.mu.Unlock()
}

func (s *MockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	mt := &mockTimer{s: s, id: s.next, deadline: s.elapsed + d, f: f}
	s.next++
	s.timers = append(s.timers, mt)
	return mt
}

// Advance moves the scheduler's time forward and fires every pending timer
// whose deadline has passed. Callbacks run outside the scheduler lock so
// they may schedule further timers.
func (s *MockScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.elapsed += d
	s.mu.Unlock()
	for {
		mt := s.popDue()
		if mt == nil {
			return
		}
		mt.f()
	}
}

// Pending returns the number of scheduled timers that have neither fired
// nor been stopped.
func (s *MockScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, mt := range s.timers {
		if !mt.stopped && !mt.fired {
			n++
		}
	}
	return n
}

func (s *MockScheduler) popDue() *mockTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]*mockTimer, 0, 1)
	for _, mt := range s.timers {
		if !mt.stopped && !mt.fired && mt.deadline <= s.elapsed {
			due = append(due, mt)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].id < due[j].id
	})
	due[0].fired = true
	return due[0]
}

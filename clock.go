package wbcache

import (
	"sync"
	"time"
)

/*
Clock abstracts virtual time. The queue workers' pacing decisions — cache
target durations, batching windows, entry timestamps — go through a Clock
instead of calling time.Now() directly, so tests can run a full
read-main-write-return cycle without sleeping real wall-clock seconds.
Flush, shutdown and latch-wait deadlines are wall-clock time.Time values;
virtual budgets are converted to them through RealInterval.

Virtual milliseconds scale against real time by a configurable time factor:
a factor of 10 means one virtual millisecond takes 10 real milliseconds to
elapse on a RealClock, and realInterval(dt) reports how long a caller should
actually sleep to wait out dt virtual milliseconds.
*/
type Clock interface {
	// Now returns the current virtual time in milliseconds.
	Now() int64
	// Gap returns b-a, the signed virtual-ms distance from a to b.
	Gap(a, b int64) int64
	// Add returns t+dt in virtual-ms.
	Add(t, dt int64) int64
	// RealInterval converts a virtual-ms duration into the real
	// time.Duration a caller should actually wait.
	RealInterval(dtVirtualMs int64) time.Duration
}

// RealClock is a Clock backed by wall-clock time, optionally scaled by a
// time factor (factor > 1 slows virtual time relative to real time; this
// is mostly useful for deterministic load tests, not production).
type RealClock struct {
	startReal    time.Time
	startVirtual int64
	factor       float64
}

// NewRealClock returns a RealClock with the given time factor. A factor of
// 1.0 means virtual milliseconds and real milliseconds are identical.
func NewRealClock(factor float64) *RealClock {
	if factor <= 0 {
		factor = 1.0
	}
	return &RealClock{startReal: time.Now(), factor: factor}
}

func (c *RealClock) Now() int64 {
	elapsedReal := time.Since(c.startReal)
	return c.startVirtual + int64(float64(elapsedReal.Milliseconds())/c.factor)
}

func (c *RealClock) Gap(a, b int64) int64 { return b - a }

func (c *RealClock) Add(t, dt int64) int64 { return t + dt }

func (c *RealClock) RealInterval(dtVirtualMs int64) time.Duration {
	if dtVirtualMs <= 0 {
		return 0
	}
	return time.Duration(float64(dtVirtualMs)*c.factor) * time.Millisecond
}

// VirtualClock is a manually-advanced Clock for tests: Now() never moves on
// its own, only Advance() moves it. RealInterval still reports a value (so
// code paths that sleep don't degenerate) but tests typically Advance()
// instead of waiting it out.
type VirtualClock struct {
	mu  sync.Mutex
	now int64
}

// NewVirtualClock returns a VirtualClock starting at t0 virtual-ms.
func NewVirtualClock(t0 int64) *VirtualClock {
	return &VirtualClock{now: t0}
}

func (c *VirtualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) Gap(a, b int64) int64 { return b - a }

func (c *VirtualClock) Add(t, dt int64) int64 { return t + dt }

func (c *VirtualClock) RealInterval(dtVirtualMs int64) time.Duration {
	if dtVirtualMs <= 0 {
		return 0
	}
	return time.Duration(dtVirtualMs) * time.Millisecond
}

// Advance moves the virtual clock forward by dt virtual-ms and returns the
// new value.
func (c *VirtualClock) Advance(dt int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += dt
	return c.now
}

// Set pins the virtual clock to an absolute value.
func (c *VirtualClock) Set(t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

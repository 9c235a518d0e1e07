package core

import (
	"fmt"
	"sync"
	"time"
)

// TimeDomain abstracts "what time is it" for the scheduling primitives.
// The real variant reads the system monotonic clock; the virtual variant is
// advanced explicitly, which makes delayed-task behavior deterministic in
// tests and trace replay.
type TimeDomain interface {
	Now() time.Time
}

// RealTimeDomain reports the system clock.
type RealTimeDomain struct{}

// NewRealTimeDomain creates a RealTimeDomain.
func NewRealTimeDomain() *RealTimeDomain {
	return &RealTimeDomain{}
}

// Now returns the current system time.
func (d *RealTimeDomain) Now() time.Time {
	return time.Now()
}

// VirtualTimeDomain reports an externally-advanced clock. Time never moves on
// its own; AdvanceTo and Advance are the only way forward, and going backwards
// is a programming error.
type VirtualTimeDomain struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtualTimeDomain creates a virtual clock starting at initial.
func NewVirtualTimeDomain(initial time.Time) *VirtualTimeDomain {
	return &VirtualTimeDomain{now: initial}
}

// Now returns the current virtual time.
func (d *VirtualTimeDomain) Now() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// AdvanceTo moves virtual time forward to t. Advancing to the current time is
// a no-op; moving backwards panics.
func (d *VirtualTimeDomain) AdvanceTo(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.Before(d.now) {
		panic(fmt.Sprintf("VirtualTimeDomain: non-monotonic advancement from %v to %v", d.now, t))
	}
	d.now = t
}

// Advance moves virtual time forward by delta. Negative deltas panic.
func (d *VirtualTimeDomain) Advance(delta time.Duration) {
	if delta < 0 {
		panic(fmt.Sprintf("VirtualTimeDomain: negative advancement %v", delta))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = d.now.Add(delta)
}

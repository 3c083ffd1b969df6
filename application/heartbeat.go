package application

import "time"

// DefaultHeartbeatInterval matches the device's reference cadence.
const DefaultHeartbeatInterval = 5 * time.Second

// HeartbeatScheduler fires at most once per elapsed interval. A stalled
// caller gets a single fire on the next tick, not a catch-up burst: the
// clock resynchronizes to the tick that fired.
type HeartbeatScheduler struct {
	interval time.Duration
	lastFire time.Time
}

// NewHeartbeatScheduler starts the interval clock at now; the first
// fire happens one full interval later.
func NewHeartbeatScheduler(interval time.Duration, now time.Time) *HeartbeatScheduler {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatScheduler{
		interval: interval,
		lastFire: now,
	}
}

// Tick reports whether a heartbeat is due, firing exactly once per
// elapsed interval.
func (h *HeartbeatScheduler) Tick(now time.Time) bool {
	if now.Sub(h.lastFire) >= h.interval {
		h.lastFire = now
		return true
	}
	return false
}

func (h *HeartbeatScheduler) Interval() time.Duration {
	return h.interval
}

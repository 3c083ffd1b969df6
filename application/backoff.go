package application

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// backoff tracks consecutive failures for one component and the instant
// the next attempt becomes due. Reset on any successful transition.
type backoff struct {
	cfg      BackoffConfig
	rng      *rand.Rand
	attempts int
	nextAt   time.Time
}

// Fail records a failed attempt and schedules the next one.
func (b *backoff) Fail(now time.Time) time.Duration {
	b.attempts++
	d := NextBackoffDelay(b.cfg, b.attempts, b.rng)
	b.nextAt = now.Add(d)
	return d
}

// Ready reports whether the next attempt is due. A fresh or reset
// tracker is always ready.
func (b *backoff) Ready(now time.Time) bool {
	return !now.Before(b.nextAt)
}

func (b *backoff) Reset() {
	b.attempts = 0
	b.nextAt = time.Time{}
}

func (b *backoff) Attempts() int {
	return b.attempts
}

package session

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

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

// Retry tracks reconnect attempts for one peer and the earliest time the
// next attempt may run.
type Retry struct {
	mu        sync.Mutex
	cfg       BackoffConfig
	rng       *rand.Rand
	attempt   int
	notBefore time.Time
}

func NewRetry(cfg BackoffConfig, rng *rand.Rand) *Retry {
	return &Retry{cfg: cfg, rng: rng}
}

// Due reports whether an attempt may run at now.
func (r *Retry) Due(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !now.Before(r.notBefore)
}

// Attempt records an attempt at now and returns the delay until the next one.
func (r *Retry) Attempt(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt++
	delay := NextBackoffDelay(r.cfg, r.attempt, r.rng)
	r.notBefore = now.Add(delay)
	return delay
}

// Reset clears the attempt counter after a successful connection.
func (r *Retry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
	r.notBefore = time.Time{}
}

func (r *Retry) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

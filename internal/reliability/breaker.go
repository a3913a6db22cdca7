package reliability

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrBreakerOpen is what call sites report when the breaker rejects a call.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker halts calls to a capability after too many consecutive failures.
// Once the threshold is hit it rejects everything for the cooldown window,
// then lets traffic through again with the failure count cleared.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	clock     backoff.Clock

	failures  int
	openUntil time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, clock: backoff.SystemClock}
}

// Allow reports whether a call may proceed, closing the breaker when the
// cooldown has passed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if b.clock.Now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	return true
}

// Success clears the consecutive-failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure records one failed call and opens the breaker at the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.clock.Now().Add(b.cooldown)
		b.failures = 0
	}
}

// Open reports the current state without touching it, for status endpoints.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.clock.Now().Before(b.openUntil)
}

package executor

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, reject requests
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker stops order placement after repeated failures and lets a probe
// through once the reset timeout has passed.
type Breaker struct {
	mu sync.Mutex

	state        BreakerState
	failures     int
	successes    int
	lastFailure  time.Time
	failureLimit int
	successLimit int
	resetAfter   time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// NewBreaker opens after failureLimit consecutive failures and closes again
// after two successful probes.
func NewBreaker(failureLimit int, resetAfter time.Duration, logger *slog.Logger) *Breaker {
	if failureLimit <= 0 {
		failureLimit = 5
	}
	return &Breaker{
		state:        BreakerClosed,
		failureLimit: failureLimit,
		successLimit: 2,
		resetAfter:   resetAfter,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "order_breaker")),
	}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) > b.resetAfter {
			b.state = BreakerHalfOpen
			b.successes = 0
			b.logger.Info("breaker half-open")
			return true
		}
	}
	return false
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successLimit {
			b.state = BreakerClosed
			b.failures, b.successes = 0, 0
			b.logger.Info("breaker closed")
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureLimit {
			b.state = BreakerOpen
			b.logger.Warn("breaker open", slog.Int("failures", b.failures))
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.successes = 0
		b.logger.Warn("breaker open, probe failed")
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

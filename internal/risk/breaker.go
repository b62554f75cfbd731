package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker halts new entries after a run of consecutive order
// failures. Open cools down for ResetAfter, then half-open allows a single
// probe attempt; success closes, failure re-opens.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time
	maxFailures         int
	resetAfter          time.Duration
	now                 func() time.Time
	logger              zerolog.Logger
}

func NewCircuitBreaker(maxFailures int, resetAfter time.Duration, logger zerolog.Logger) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		state:       BreakerClosed,
		maxFailures: maxFailures,
		resetAfter:  resetAfter,
		now:         time.Now,
		logger:      logger.With().Str("component", "circuit_breaker").Logger(),
	}
}

// CanTrade reports whether entries are allowed, with a reason when blocked.
// The open -> half_open transition happens here once the cooldown elapses.
func (cb *CircuitBreaker) CanTrade() (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetAfter {
			cb.state = BreakerHalfOpen
			cb.logger.Info().Msg("breaker half-open, allowing probe")
			return true, ""
		}
		remaining := cb.resetAfter - cb.now().Sub(cb.lastFailure)
		return false, fmt.Sprintf("circuit breaker open, %s remaining", remaining.Round(time.Second))
	default:
		return true, ""
	}
}

// RecordFailure counts a failed order attempt; the breaker trips at
// maxFailures. A failure while half-open re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures++
	cb.lastFailure = cb.now()
	if cb.state == BreakerHalfOpen || cb.consecutiveFailures >= cb.maxFailures {
		if cb.state != BreakerOpen {
			cb.logger.Warn().Int("failures", cb.consecutiveFailures).Msg("circuit breaker tripped")
		}
		cb.state = BreakerOpen
	}
}

// RecordSuccess clears the failure run and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != BreakerClosed {
		cb.logger.Info().Msg("circuit breaker closed")
	}
	cb.state = BreakerClosed
	cb.consecutiveFailures = 0
}

// ForceReset clears all state, for the control surface.
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.consecutiveFailures = 0
	cb.lastFailure = time.Time{}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the breaker's counters for the state bundle.
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"state":                string(cb.state),
		"consecutive_failures": cb.consecutiveFailures,
		"max_failures":         cb.maxFailures,
		"last_failure":         cb.lastFailure,
	}
}

// SetClock overrides the time source for tests.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

package circuitbreaker

import (
	"sync"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
)

// CircuitBreaker opens after threshold transport failures inside the failure window.
// A success resets the count, so only consecutive failures trip it.
type CircuitBreaker struct {
	name          string
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	logger        logger.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// State is a snapshot of the breaker
type State struct {
	Name          string        `json:"name"`
	Enabled       bool          `json:"enabled"`
	Open          bool          `json:"open"`
	FailureCount  int           `json:"failureCount"`
	FailThreshold int           `json:"failThreshold"`
	FailureWindow time.Duration `json:"failureWindow"`
	LastFailure   time.Time     `json:"lastFailure"`
	TripTime      time.Time     `json:"tripTime"`
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:          name,
		enabled:       cfg.Enabled,
		failThreshold: cfg.Threshold,
		failureWindow: cfg.WindowDuration,
		resetTimeout:  cfg.ResetTimeout,
		logger:        log,
		now:           time.Now,
	}
}

// RecordFailure records a failure and reports whether the circuit is open afterwards
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.tripped {
		if now.Sub(cb.tripTime) <= cb.resetTimeout {
			return true
		}
		cb.logger.Notice("Circuit breaker %s: attempting to close after timeout", cb.name)
		cb.closeLocked()
	}

	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}
	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(1)
		metrics.CircuitBreakerTrips.WithLabelValues(cb.name).Inc()
		cb.logger.Error("Circuit breaker %s tripped: %d failures in %v window", cb.name, cb.failureCount, cb.failureWindow)
		return true
	}

	cb.logger.Debug("Circuit breaker %s: failure %d/%d", cb.name, cb.failureCount, cb.failThreshold)
	return false
}

// RecordSuccess clears the failure count of a closed circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped && cb.now().Sub(cb.tripTime) > cb.resetTimeout {
		cb.closeLocked()
		return false
	}
	return cb.tripped
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closeLocked()
	cb.logger.Notice("Circuit breaker %s reset", cb.name)
}

func (cb *CircuitBreaker) closeLocked() {
	cb.tripped = false
	cb.failureCount = 0
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(0)
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Name:          cb.name,
		Enabled:       cb.enabled,
		Open:          cb.enabled && cb.tripped,
		FailureCount:  cb.failureCount,
		FailThreshold: cb.failThreshold,
		FailureWindow: cb.failureWindow,
		LastFailure:   cb.lastFailure,
		TripTime:      cb.tripTime,
	}
}

package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(enabled bool) (*CircuitBreaker, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", config.CircuitBreakerConfig{
		Enabled:        enabled,
		Threshold:      3,
		WindowDuration: time.Minute,
		ResetTimeout:   5 * time.Minute,
	}, &logger.EmptyLogger{})
	cb.now = c.now
	return cb, c
}

func TestTripsAfterThreshold(t *testing.T) {
	cb, _ := newBreaker(true)
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())
	assert.True(t, cb.State().Open)
}

func TestSuccessResetsCount(t *testing.T) {
	cb, _ := newBreaker(true)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure())
	assert.Equal(t, 1, cb.State().FailureCount)
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	cb, c := newBreaker(true)
	cb.RecordFailure()
	cb.RecordFailure()
	c.advance(2 * time.Minute)
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}

func TestClosesAfterResetTimeout(t *testing.T) {
	cb, c := newBreaker(true)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	c.advance(4 * time.Minute)
	assert.True(t, cb.IsOpen())
	c.advance(2 * time.Minute)
	assert.False(t, cb.IsOpen())
}

func TestManualReset(t *testing.T) {
	cb, _ := newBreaker(true)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	assert.False(t, cb.IsOpen())
	assert.Zero(t, cb.State().FailureCount)
}

func TestDisabledNeverOpens(t *testing.T) {
	cb, _ := newBreaker(false)
	for i := 0; i < 10; i++ {
		assert.False(t, cb.RecordFailure())
	}
	assert.False(t, cb.IsOpen())
}

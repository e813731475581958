// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// Licensed under the GNU Affero General Public License v3. See LICENSE.txt.

package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// clock is a controllable time source for breaker tests.
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *clock) {
	c := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", cfg)
	b.now = c.Now
	return b, c
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(DefaultBreakerConfig())

	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_TripsAtThresholdWithinWindow(t *testing.T) {
	b, c := newTestBreaker(BreakerConfig{FailureThreshold: 3, FailureWindow: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		c.Advance(time.Second)
	}
	assert.Equal(t, CircuitClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_OldFailuresFallOutOfWindow(t *testing.T) {
	b, c := newTestBreaker(BreakerConfig{FailureThreshold: 3, FailureWindow: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	c.Advance(2 * time.Minute)
	b.RecordFailure()

	// Only one failure remains inside the window, so the circuit holds.
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_CooldownTransitionsToHalfOpen(t *testing.T) {
	b, c := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second})

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())

	c.Advance(31 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second})

	b.RecordFailure()
	c.Advance(31 * time.Second)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b, c := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 2,
	})

	b.RecordFailure()
	c.Advance(31 * time.Second)
	assert.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_SuccessClearsClosedFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1})

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerRegistry_GetCreatesOnDemand(t *testing.T) {
	r := NewBreakerRegistry(DefaultBreakerConfig())

	b1 := r.Get("openai")
	b2 := r.Get("openai")
	assert.Same(t, b1, b2)
}

func TestBreakerRegistry_States(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1})

	r.Get("openai")
	r.Get("anthropic").RecordFailure()

	states := r.States()
	assert.Equal(t, "CLOSED", states["openai"])
	assert.Equal(t, "OPEN", states["anthropic"])
}

// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard wraps the provider drivers with per-attempt timeouts,
// ordered failover, per-provider rate limiting, and a circuit breaker per
// provider. It is the only code path through which a provider is ever called.
package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a provider's circuit breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failures in window]──► OPEN ──┘
//	   ▲                              │
//	   │                              │
//	   └───[successes]◄── HALF_OPEN ◄─┘
//	                      [cooldown]
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the provider is skipped without being tried.
	CircuitOpen

	// CircuitHalfOpen means the cooldown elapsed and trial calls are allowed.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned when a provider's circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig controls how a provider breaker trips and recovers.
type BreakerConfig struct {
	// FailureThreshold is the number of failures inside FailureWindow that
	// trips the circuit. Default: 5.
	FailureThreshold int

	// FailureWindow is the sliding window over which failures are counted.
	// Failures older than the window no longer count toward the threshold.
	// Default: 60 seconds.
	FailureWindow time.Duration

	// Cooldown is how long an open circuit skips the provider before
	// allowing a half-open trial. Default: 30 seconds.
	Cooldown time.Duration

	// SuccessThreshold is consecutive successes needed to close from
	// half-open. Default: 2.
	SuccessThreshold int

	// OnStateChange is called asynchronously on state transitions.
	OnStateChange func(provider string, from, to CircuitState)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker implements the circuit breaker pattern for one provider.
//
// Unlike a consecutive-failure breaker, failures are counted inside a
// sliding window, so a slow trickle of isolated errors does not trip the
// circuit but a burst does. Safe for concurrent use.
type Breaker struct {
	provider  string
	config    BreakerConfig
	now       func() time.Time
	mu        sync.Mutex
	state     CircuitState
	failures  []time.Time
	successes int
	openedAt  time.Time
}

// NewBreaker creates a breaker in the closed state. Zero config values are
// replaced with defaults.
func NewBreaker(provider string, config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = 60 * time.Second
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}

	return &Breaker{
		provider: provider,
		config:   config,
		now:      time.Now,
		state:    CircuitClosed,
	}
}

// Allow reports whether a call to the provider may proceed. An open circuit
// whose cooldown has elapsed transitions to half-open and allows the call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if b.now().Sub(b.openedAt) >= b.config.Cooldown {
			b.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful provider call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = b.failures[:0]
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.failures = b.failures[:0]
			b.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a failed provider call. In the closed state the
// circuit trips once the windowed failure count reaches the threshold; any
// failure in half-open reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.successes = 0

	switch b.state {
	case CircuitClosed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.config.FailureThreshold {
			b.openedAt = now
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.openedAt = now
		b.transitionTo(CircuitOpen)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the circuit closed. Use when the provider is known to be
// healthy again.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = b.failures[:0]
	b.successes = 0
	b.transitionTo(CircuitClosed)
}

// pruneLocked drops failures that fell out of the sliding window.
// Caller must hold b.mu.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.FailureWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

func (b *Breaker) transitionTo(state CircuitState) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state
	b.successes = 0

	if b.config.OnStateChange != nil {
		// Called without holding the lock path to avoid deadlocks.
		go b.config.OnStateChange(b.provider, old, state)
	}
}

// BreakerRegistry holds one breaker per provider, created on demand with a
// shared configuration. Safe for concurrent use.
type BreakerRegistry struct {
	defaultConfig BreakerConfig
	mu            sync.RWMutex
	breakers      map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(defaultConfig BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the breaker for a provider, creating it if needed.
func (r *BreakerRegistry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[provider]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists = r.breakers[provider]; exists {
		return b
	}
	b = NewBreaker(provider, r.defaultConfig)
	r.breakers[provider] = b
	return b
}

// States returns the current state of every known breaker, keyed by
// provider name. Exposed through the health endpoint.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		result[name] = b.State().String()
	}
	return result
}

// ResetAll resets every breaker in the registry.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}

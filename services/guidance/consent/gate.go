// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consent implements the admission gate for external processing.
//
// POPIA requires recorded consent before a learner's data may be processed
// by an external provider. The gate is a pure function over the session's
// recorded consent state: denial is deterministic and final for a request,
// with no retries and no side effects. A denied request must never reach
// the sanitiser, the cache, or any provider.
package consent

import (
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
)

// Deny reasons are stable strings so operators can aggregate them in logs.
const (
	ReasonNotGiven = "consent_not_given"
	ReasonNoRecord = "consent_timestamp_missing"
	ReasonStale    = "consent_stale"
	ReasonInFuture = "consent_timestamp_in_future"
)

// DefaultMaxAge is how long recorded consent stays valid. Twelve months
// matches the upstream registration renewal cycle.
const DefaultMaxAge = 12 * 30 * 24 * time.Hour

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate admits or denies external processing based on recorded consent.
type Gate struct {
	maxAge time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// NewGate creates a gate with the given maximum consent age.
// A zero or negative maxAge falls back to DefaultMaxAge.
func NewGate(maxAge time.Duration) *Gate {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Gate{maxAge: maxAge, now: time.Now}
}

// Admit evaluates the session's consent state.
//
// Consent must be affirmatively given, must carry a capture timestamp, and
// the timestamp must be neither in the future nor older than the configured
// maximum age.
func (g *Gate) Admit(s datatypes.Session) Decision {
	if !s.ConsentGiven {
		return Decision{Allowed: false, Reason: ReasonNotGiven}
	}
	if s.ConsentTimestamp == nil {
		return Decision{Allowed: false, Reason: ReasonNoRecord}
	}
	now := g.now()
	if s.ConsentTimestamp.After(now) {
		return Decision{Allowed: false, Reason: ReasonInFuture}
	}
	if now.Sub(*s.ConsentTimestamp) > g.maxAge {
		return Decision{Allowed: false, Reason: ReasonStale}
	}
	return Decision{Allowed: true}
}

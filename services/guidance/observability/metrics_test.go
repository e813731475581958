// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// Licensed under the GNU Affero General Public License v3. See LICENSE.txt.

package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics_Idempotent(t *testing.T) {
	first := InitMetrics()
	second := InitMetrics()

	require.NotNil(t, first)
	assert.Same(t, first, second, "repeated init must not re-register")
}

func TestRecordHelpers_NilSafeBeforeInit(t *testing.T) {
	// Helpers must be callable from unit tests that never initialize the
	// registry. DefaultMetrics may already be set by another test, so only
	// verify the calls don't panic.
	assert.NotPanics(t, func() {
		RecordRequest("generated", "Accept", time.Second)
		RecordProviderAttempt("openai", "success", 200*time.Millisecond)
		RecordCacheEvent(true)
		RecordVerification("Accept", 5*time.Millisecond)
		RecordEscalation("low_confidence")
		RecordConsentDenial("consent_not_given")
	})
}

func TestStats_TracksVerifications(t *testing.T) {
	InitMetrics()

	before := Stats()
	RecordVerification("Accept", 10*time.Millisecond)
	RecordVerification("Revise", 20*time.Millisecond)
	after := Stats()

	assert.Equal(t, before.Count+2, after.Count)
	assert.Greater(t, after.MeanMs, 0.0)
}

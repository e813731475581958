// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// Licensed under the GNU Affero General Public License v3. See LICENSE.txt.

package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/cache"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/cag"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/consent"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/escalation"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/facts"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/guard"
	"github.com/KhanyaAI/KhanyaGuidance/services/llm"
	"github.com/KhanyaAI/KhanyaGuidance/services/privacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCaller replays canned provider responses in call order. The last
// reply repeats if more calls arrive than replies were scripted.
type scriptedCaller struct {
	mu       sync.Mutex
	replies  []string
	calls    int
	failFrom int // 1-based call index from which every call fails; 0 = never
}

func (c *scriptedCaller) Call(_ context.Context, _ string, _ llm.GenerationParams, _ []string) (guard.ProviderCallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.failFrom > 0 && c.calls >= c.failFrom {
		return guard.ProviderCallResult{}, fmt.Errorf("scripted failure: %w", guard.ErrAllProvidersExhausted)
	}
	i := c.calls - 1
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return guard.ProviderCallResult{
		ProviderID: "fake",
		Text:       c.replies[i],
		LatencyMs:  12,
		Succeeded:  true,
	}, nil
}

func (c *scriptedCaller) BreakerStates() map[string]string {
	return map[string]string{"fake": "CLOSED"}
}

func (c *scriptedCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

const acceptableDraft = "Your strong Mathematics marks open many doors in engineering. " +
	"BSc Engineering at UP requires an APS of 42."

const revisableDraft = "Your strong Mathematics marks open many doors in engineering. " +
	"BSc Engineering at UP requires an APS of 30."

const escalatingDraft = "Your strong Accounting marks and strong History results suit engineering. " +
	"BSc Engineering at UP requires an APS of 30."

func referenceStore() facts.Store {
	return facts.NewStaticStore([]facts.Fact{
		{Kind: facts.KindAdmissionThreshold, Subject: "bsc engineering at up", Value: 42},
	})
}

func newTestService(t *testing.T, caller ProviderCaller, sink escalation.Sink) (*GuidanceService, *cache.ResponseCache) {
	t.Helper()

	sanitiser, err := privacy.NewSanitiser()
	require.NoError(t, err)
	return newTestServiceWith(t, caller, sink, sanitiser)
}

func newTestServiceWith(t *testing.T, caller ProviderCaller, sink escalation.Sink, sanitiser Sanitiser) (*GuidanceService, *cache.ResponseCache) {
	t.Helper()

	responseCache := cache.NewResponseCache(time.Hour, 16)
	svc := NewGuidanceService(
		consent.NewGate(0),
		sanitiser,
		caller,
		cag.NewVerifier(referenceStore(), cag.DefaultConfig()),
		responseCache,
		sink,
		Config{ProviderOrder: []string{"fake"}, Version: "test"},
	)
	return svc, responseCache
}

func validRequest(query string) *datatypes.AskRequest {
	return &datatypes.AskRequest{
		Query: query,
		Profile: datatypes.AskProfile{
			Name:       "Thabo",
			Surname:    "Mokoena",
			SchoolName: "Sunrise Secondary School",
			Town:       "Soweto",
			Marks: map[string]float64{
				"Mathematics":       78,
				"Physical Sciences": 72,
			},
			Interests: []string{"engineering"},
		},
		Session: datatypes.SessionPayload{
			ConsentGiven:     true,
			ConsentTimestamp: time.Now().Add(-time.Hour).Format(time.RFC3339),
		},
	}
}

func TestProcess_ConsentDeniedStopsBeforeProvider(t *testing.T) {
	caller := &scriptedCaller{replies: []string{acceptableDraft}}
	svc, _ := newTestService(t, caller, escalation.NewMemorySink())

	req := validRequest("What can I study?")
	req.Session.ConsentGiven = false

	resp := svc.Process(context.Background(), req)

	assert.True(t, resp.Success)
	assert.Equal(t, datatypes.SourceDraft, resp.Source)
	assert.False(t, resp.Compliance.Consent)
	assert.Nil(t, resp.CAG)
	assert.Equal(t, 0, caller.callCount(), "a denied request must never reach a provider")
}

func TestProcess_AcceptedDraftFlowsThrough(t *testing.T) {
	caller := &scriptedCaller{replies: []string{acceptableDraft}}
	svc, _ := newTestService(t, caller, escalation.NewMemorySink())

	resp := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))

	assert.True(t, resp.Success)
	assert.Equal(t, datatypes.SourceGenerated, resp.Source)
	assert.Equal(t, datatypes.Compliance{Consent: true, Sanitised: true, CagVerified: true}, resp.Compliance)
	require.NotNil(t, resp.CAG)
	assert.Equal(t, string(datatypes.DecisionAccept), resp.CAG.Decision)
	assert.Zero(t, resp.CAG.RevisionsApplied)
	assert.Equal(t, 1, caller.callCount())
	assert.Contains(t, resp.Response, "APS of 42")
}

func TestProcess_SecondIdenticalRequestServedFromCache(t *testing.T) {
	caller := &scriptedCaller{replies: []string{acceptableDraft}}
	svc, _ := newTestService(t, caller, escalation.NewMemorySink())

	first := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))
	second := svc.Process(context.Background(), validRequest("can i get into  engineering at UP?"))

	assert.Equal(t, datatypes.SourceGenerated, first.Source)
	assert.Equal(t, datatypes.SourceCache, second.Source)
	assert.Equal(t, first.Response, second.Response)
	require.NotNil(t, second.CAG)
	assert.Equal(t, first.CAG.Decision, second.CAG.Decision, "cached reports are returned unchanged")
	assert.Equal(t, 1, caller.callCount(), "the cache hit must not touch a provider")
}

func TestProcess_ReviseCycleCorrectsTheDraft(t *testing.T) {
	caller := &scriptedCaller{replies: []string{revisableDraft, acceptableDraft}}
	svc, _ := newTestService(t, caller, escalation.NewMemorySink())

	resp := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))

	assert.Equal(t, 2, caller.callCount(), "exactly one revision call")
	require.NotNil(t, resp.CAG)
	assert.Equal(t, string(datatypes.DecisionAccept), resp.CAG.Decision)
	assert.Equal(t, 1, resp.CAG.RevisionsApplied)
	assert.Contains(t, resp.Response, "APS of 42", "the revised draft is returned, not the original")
}

func TestProcess_SecondReviseVerdictEscalates(t *testing.T) {
	sink := escalation.NewMemorySink()
	caller := &scriptedCaller{replies: []string{revisableDraft, revisableDraft}}
	svc, _ := newTestService(t, caller, sink)

	resp := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))

	assert.Equal(t, 2, caller.callCount(), "never more than one revision cycle")
	require.NotNil(t, resp.CAG)
	assert.Equal(t, string(datatypes.DecisionEscalate), resp.CAG.Decision)
	assert.True(t, resp.CAG.RequiresHuman)
	assert.Contains(t, resp.Response, "queued for review")

	require.Eventually(t, func() bool {
		records, err := sink.List(context.Background(), 10)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, err := sink.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, escalation.ReasonLowConfidence, records[0].Reason)
}

func TestProcess_LowConfidenceDraftEscalatesWithDisclaimer(t *testing.T) {
	sink := escalation.NewMemorySink()
	caller := &scriptedCaller{replies: []string{escalatingDraft}}
	svc, _ := newTestService(t, caller, sink)

	req := validRequest("Which degree suits me?")
	req.Profile.Marks = map[string]float64{"Mathematics": 62, "Physical Sciences": 58}

	resp := svc.Process(context.Background(), req)

	assert.Equal(t, 1, caller.callCount(), "Escalate verdicts are not revised")
	require.NotNil(t, resp.CAG)
	assert.Equal(t, string(datatypes.DecisionEscalate), resp.CAG.Decision)
	assert.Contains(t, resp.Response, "queued for review")

	require.Eventually(t, func() bool {
		records, err := sink.List(context.Background(), 10)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, err := sink.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, escalation.ReasonLowConfidence, records[0].Reason)
	assert.Equal(t, req.Query, records[0].Query)
	assert.NotEmpty(t, records[0].Fingerprint)
}

func TestProcess_FailedRevisionEscalatesOriginalDraft(t *testing.T) {
	sink := escalation.NewMemorySink()
	caller := &scriptedCaller{replies: []string{revisableDraft}, failFrom: 2}
	svc, _ := newTestService(t, caller, sink)

	resp := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))

	require.NotNil(t, resp.CAG)
	assert.Equal(t, string(datatypes.DecisionEscalate), resp.CAG.Decision)
	assert.True(t, resp.CAG.RequiresHuman)

	require.Eventually(t, func() bool {
		records, err := sink.List(context.Background(), 10)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, err := sink.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, escalation.ReasonRevisionFailed, records[0].Reason)
}

func TestProcess_ProviderExhaustionReturnsFallbackWithoutCaching(t *testing.T) {
	caller := &scriptedCaller{failFrom: 1}
	svc, responseCache := newTestService(t, caller, escalation.NewMemorySink())

	resp := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))

	assert.True(t, resp.Success, "the user still receives a well-formed response")
	assert.Equal(t, datatypes.SourceDraft, resp.Source)
	assert.True(t, resp.Compliance.Consent)
	assert.True(t, resp.Compliance.Sanitised)
	assert.False(t, resp.Compliance.CagVerified)
	assert.Nil(t, resp.CAG)
	assert.Equal(t, 0, responseCache.Stats().EntryCount, "failures must not populate the cache")
}

func TestProcess_OutputNeverContainsIdentifiers(t *testing.T) {
	// The provider echoes the learner's name back; the scrub must remove it.
	leakyDraft := "Thabo, your strong Mathematics marks open many doors in engineering. " +
		"BSc Engineering at UP requires an APS of 42."
	caller := &scriptedCaller{replies: []string{leakyDraft}}
	svc, _ := newTestService(t, caller, escalation.NewMemorySink())

	resp := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))

	assert.NotContains(t, resp.Response, "Thabo")
	assert.NotContains(t, resp.Response, "Mokoena")
	assert.NotContains(t, resp.Response, "Sunrise Secondary School")
}

// ambiguousScrubber generalises profiles normally but refuses to certify
// any generated text as identifier-free.
type ambiguousScrubber struct {
	inner Sanitiser
}

func (a ambiguousScrubber) SanitiseProfile(raw datatypes.RawProfile) datatypes.SanitisedProfile {
	return a.inner.SanitiseProfile(raw)
}

func (a ambiguousScrubber) ScrubOutput(string, []string) (string, error) {
	return "", fmt.Errorf("certify: %w", privacy.ErrAmbiguousRedaction)
}

func TestProcess_AmbiguousScrubEscalatesWithFallback(t *testing.T) {
	sink := escalation.NewMemorySink()
	caller := &scriptedCaller{replies: []string{acceptableDraft}}
	inner, err := privacy.NewSanitiser()
	require.NoError(t, err)
	svc, _ := newTestServiceWith(t, caller, sink, ambiguousScrubber{inner: inner})

	resp := svc.Process(context.Background(), validRequest("Can I get into engineering at UP?"))

	assert.True(t, resp.Success)
	assert.Contains(t, resp.Response, "privacy check",
		"an uncertifiable draft is replaced by the safe fallback body")
	assert.NotContains(t, resp.Response, "APS of 42",
		"the uncertified draft must never reach the learner")
	require.NotNil(t, resp.CAG)
	assert.Equal(t, string(datatypes.DecisionEscalate), resp.CAG.Decision)
	assert.True(t, resp.CAG.RequiresHuman)

	require.Eventually(t, func() bool {
		records, err := sink.List(context.Background(), 10)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, err := sink.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, escalation.ReasonScrubAmbiguous, records[0].Reason)

	var residue bool
	for _, issue := range records[0].Report.Issues {
		if issue.Kind == datatypes.IssuePIIResidue && issue.Severity == datatypes.SeverityCritical {
			residue = true
		}
	}
	assert.True(t, residue, "the report must record the failed certification as a critical issue")
}

func TestHealth_ReportsComponents(t *testing.T) {
	caller := &scriptedCaller{replies: []string{acceptableDraft}}
	svc, _ := newTestService(t, caller, escalation.NewMemorySink())

	health := svc.Health()

	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
	providers, ok := health["providers"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]string{"fake": "CLOSED"}, providers["breakers"])
	assert.Contains(t, health, "cache")
	assert.Contains(t, health, "verification")
	assert.ElementsMatch(t, []string{"consent_gate", "sanitiser", "verification"}, health["blockers"])
}

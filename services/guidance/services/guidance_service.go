// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services wires the guidance pipeline together: consent gate,
// sanitiser, cache, guarded client, verification, scrub, escalation. The
// orchestration itself is thin; every stage lives in its own package.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/cache"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/cag"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/consent"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/escalation"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/guard"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/observability"
	"github.com/KhanyaAI/KhanyaGuidance/services/llm"
	"github.com/KhanyaAI/KhanyaGuidance/services/privacy"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("khanya.guidance.services")

// Response texts for the designed terminal states. The end user always
// receives well-formed, safe content, never a raw error.
const (
	consentDeniedText = "We can only generate personalised career guidance once consent for " +
		"processing has been recorded. In the meantime: compare programme requirements on " +
		"university websites, speak to your school's life orientation teacher, and keep your " +
		"subject marks as strong as you can. Ask your school to renew your consent form to " +
		"unlock personalised guidance."

	providersDownText = "Our guidance engine is temporarily unavailable. Your question has not " +
		"been lost: please try again in a few minutes. General advice in the meantime: compare " +
		"programme requirements on university websites and note bursary closing dates early in " +
		"the year."

	scrubFallbackText = "We prepared guidance for your question, but it did not pass our final " +
		"privacy check, so a counsellor will review it before it is released. Please check back " +
		"later or ask your school for the reviewed result."

	escalationDisclaimer = "\n\nPlease note: this guidance could not be fully verified " +
		"against our reference data and has been queued for review by a human counsellor. " +
		"Treat the specifics above as provisional."

	// escalationSubmitTimeout bounds the fire-and-forget sink write.
	escalationSubmitTimeout = 5 * time.Second
)

// ProviderCaller is the guarded client surface the service depends on.
type ProviderCaller interface {
	Call(ctx context.Context, prompt string, params llm.GenerationParams, order []string) (guard.ProviderCallResult, error)
	BreakerStates() map[string]string
}

// Sanitiser is the privacy surface the service depends on: request-direction
// profile generalization and response-direction scrubbing.
type Sanitiser interface {
	SanitiseProfile(raw datatypes.RawProfile) datatypes.SanitisedProfile
	ScrubOutput(text string, terms []string) (string, error)
}

// Config carries the orchestration-level tuning.
type Config struct {
	// ProviderOrder is the failover priority, first entry tried first.
	ProviderOrder []string

	// Params are the provider-agnostic generation parameters; they
	// participate in the request fingerprint.
	Params datatypes.PromptParams

	// Version is reported by the health endpoint.
	Version string
}

// GuidanceService sequences one guidance request end to end.
// Safe for concurrent use; all mutable state lives in the cache.
type GuidanceService struct {
	gate      *consent.Gate
	sanitiser Sanitiser
	client    ProviderCaller
	verifier  *cag.Verifier
	cache     *cache.ResponseCache
	sink      escalation.Sink
	cfg       Config
	startedAt time.Time
}

// NewGuidanceService assembles the pipeline.
func NewGuidanceService(
	gate *consent.Gate,
	sanitiser Sanitiser,
	client ProviderCaller,
	verifier *cag.Verifier,
	responseCache *cache.ResponseCache,
	sink escalation.Sink,
	cfg Config,
) *GuidanceService {
	if cfg.Params.Temperature == 0 {
		cfg.Params.Temperature = 0.2
	}
	if cfg.Params.MaxTokens == 0 {
		cfg.Params.MaxTokens = 700
	}
	return &GuidanceService{
		gate:      gate,
		sanitiser: sanitiser,
		client:    client,
		verifier:  verifier,
		cache:     responseCache,
		sink:      sink,
		cfg:       cfg,
		startedAt: time.Now(),
	}
}

// Process runs one guidance request through the full pipeline and always
// returns a well-formed response envelope.
//
// Stage order: consent gate → sanitise → fingerprint → cache/single-flight
// → guarded provider call → verification → optional single revision →
// output scrub → escalation. A consent denial stops before the sanitiser;
// nothing derived from the raw profile leaves this function.
func (s *GuidanceService) Process(ctx context.Context, req *datatypes.AskRequest) datatypes.GuidanceResponse {
	ctx, span := tracer.Start(ctx, "GuidanceService.Process")
	defer span.End()

	start := time.Now()

	gateDecision := s.gate.Admit(req.ParsedSession())
	if !gateDecision.Allowed {
		slog.Info("Consent gate denied request", "reason", gateDecision.Reason)
		observability.RecordConsentDenial(gateDecision.Reason)
		observability.RecordRequest(datatypes.SourceDraft, "", time.Since(start))
		return datatypes.GuidanceResponse{
			Success:  true,
			Response: consentDeniedText,
			Source:   datatypes.SourceDraft,
		}
	}

	raw := req.RawProfile()
	secure := privacy.NewSecureProfile(raw)
	defer secure.Destroy()

	greq := datatypes.GuidanceRequest{
		Query:   req.Query,
		Profile: s.sanitiser.SanitiseProfile(raw),
		Params:  s.cfg.Params,
	}
	fingerprint := greq.Fingerprint()

	entry, fromCache, err := s.cache.GetOrCompute(ctx, fingerprint, func(ctx context.Context) (cache.Entry, error) {
		return s.generateVerified(ctx, greq, secure.Terms(), fingerprint)
	})
	observability.RecordCacheEvent(fromCache)

	if err != nil {
		return s.terminalFailure(err, start)
	}

	source := datatypes.SourceGenerated
	if fromCache {
		source = datatypes.SourceCache
	}
	observability.RecordRequest(source, string(entry.Report.Decision), time.Since(start))

	report := entry.Report
	return datatypes.GuidanceResponse{
		Success:  true,
		Response: entry.Response,
		Source:   source,
		Compliance: datatypes.Compliance{
			Consent:     true,
			Sanitised:   true,
			CagVerified: true,
		},
		CAG: report.Summary(),
	}
}

// terminalFailure converts a pipeline error into the safe fallback
// envelope. Only provider exhaustion and caller cancellation reach here.
func (s *GuidanceService) terminalFailure(err error, start time.Time) datatypes.GuidanceResponse {
	if errors.Is(err, guard.ErrAllProvidersExhausted) {
		slog.Error("All providers exhausted, returning fallback response", "error", err)
	} else {
		slog.Warn("Guidance request aborted", "error", err)
	}
	observability.RecordRequest(datatypes.SourceDraft, "", time.Since(start))
	return datatypes.GuidanceResponse{
		Success:  true,
		Response: providersDownText,
		Source:   datatypes.SourceDraft,
		Compliance: datatypes.Compliance{
			Consent:   true,
			Sanitised: true,
		},
	}
}

// generateVerified produces one verified, scrubbed cache entry. Runs at
// most once per fingerprint under the cache's single-flight contract.
func (s *GuidanceService) generateVerified(ctx context.Context, greq datatypes.GuidanceRequest, terms []string, fingerprint string) (cache.Entry, error) {
	prompt := buildPrompt(greq)
	params := toGenerationParams(greq.Params)

	result, err := s.client.Call(ctx, prompt, params, s.cfg.ProviderOrder)
	s.recordAttempt(result, err)
	if err != nil {
		return cache.Entry{}, err
	}

	draft := result.Text
	report := s.verifier.Verify(ctx, draft, greq.Profile)
	observability.RecordVerification(string(report.Decision), report.ProcessingTime)

	reason := escalation.ReasonLowConfidence
	if report.Decision == datatypes.DecisionRevise {
		draft, report, reason = s.reviseOnce(ctx, prompt, draft, report, greq, params)
	}

	clean, scrubErr := s.sanitiser.ScrubOutput(draft, terms)
	if scrubErr != nil {
		// Ambiguous redaction downgrades to Escalate; the uncertified
		// text is never returned.
		slog.Warn("Output scrub could not certify the draft, escalating", "error", scrubErr)
		clean = scrubFallbackText
		reason = escalation.ReasonScrubAmbiguous
		report.Issues = append(report.Issues, datatypes.Issue{
			Kind:     datatypes.IssuePIIResidue,
			Severity: datatypes.SeverityCritical,
			Detail:   "output scrub could not certify the draft as free of personal identifiers",
		})
		report.Decision = datatypes.DecisionEscalate
		report.RequiresHuman = true
	}

	if report.Decision == datatypes.DecisionEscalate {
		if scrubErr == nil {
			clean += escalationDisclaimer
		}
		s.submitEscalation(fingerprint, greq.Query, clean, reason, report)
	}

	return cache.Entry{Response: clean, Report: report}, nil
}

// reviseOnce runs the single allowed regeneration cycle: issues are fed
// back as correction instructions and the revised draft is re-scored once.
// A second Revise verdict, or a failed regeneration, escalates.
func (s *GuidanceService) reviseOnce(ctx context.Context, prompt, draft string, report datatypes.VerificationReport, greq datatypes.GuidanceRequest, params llm.GenerationParams) (string, datatypes.VerificationReport, escalation.Reason) {
	revisionPrompt := cag.BuildRevisionPrompt(prompt, draft, report.Issues)

	result, err := s.client.Call(ctx, revisionPrompt, params, s.cfg.ProviderOrder)
	s.recordAttempt(result, err)
	if err != nil {
		slog.Warn("Revision attempt failed, escalating original draft", "error", err)
		report.Decision = datatypes.DecisionEscalate
		report.RequiresHuman = true
		return draft, report, escalation.ReasonRevisionFailed
	}

	revised := s.verifier.Verify(ctx, result.Text, greq.Profile)
	observability.RecordVerification(string(revised.Decision), revised.ProcessingTime)
	revised.RevisionCount = 1
	if revised.Decision == datatypes.DecisionRevise {
		revised.Decision = datatypes.DecisionEscalate
		revised.RequiresHuman = true
	}
	return result.Text, revised, escalation.ReasonLowConfidence
}

// submitEscalation writes to the review queue fire-and-forget: a sink
// failure is logged and never changes the response.
func (s *GuidanceService) submitEscalation(fingerprint, query, draft string, reason escalation.Reason, report datatypes.VerificationReport) {
	record := escalation.NewRecord(fingerprint, query, draft, reason, report)
	observability.RecordEscalation(string(reason))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), escalationSubmitTimeout)
		defer cancel()
		if err := s.sink.Submit(ctx, record); err != nil {
			slog.Error("Failed to submit escalation record",
				"record_id", record.ID,
				"error", err)
		}
	}()
}

func (s *GuidanceService) recordAttempt(result guard.ProviderCallResult, err error) {
	if result.ProviderID == "" {
		return
	}
	outcome := "success"
	if err != nil || !result.Succeeded {
		outcome = string(result.ErrorKind)
		if outcome == "" {
			outcome = "error"
		}
	}
	observability.RecordProviderAttempt(result.ProviderID,
		outcome, time.Duration(result.LatencyMs)*time.Millisecond)
}

// Health reports component status for the health endpoint.
func (s *GuidanceService) Health() map[string]interface{} {
	stats := observability.Stats()
	return map[string]interface{}{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		// The safeguards are wired structurally and cannot be switched off;
		// operators use this list to confirm none were compiled out.
		"blockers": []string{"consent_gate", "sanitiser", "verification"},
		"providers": map[string]interface{}{
			"order":    s.cfg.ProviderOrder,
			"breakers": s.client.BreakerStates(),
		},
		"cache": s.cache.Stats(),
		"verification": map[string]interface{}{
			"count":  stats.Count,
			"meanMs": stats.MeanMs,
		},
	}
}

// buildPrompt renders the provider prompt from sanitised data only. Field
// order is fixed so the prompt, and therefore the provider response, is
// stable for a given fingerprint.
func buildPrompt(greq datatypes.GuidanceRequest) string {
	var b strings.Builder
	b.WriteString("Learner profile (de-identified):\n")
	fmt.Fprintf(&b, "- Location: %s\n", greq.Profile.Province)

	subjects := make([]string, 0, len(greq.Profile.Marks))
	for subject := range greq.Profile.Marks {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	for _, subject := range subjects {
		fmt.Fprintf(&b, "- %s: %.0f%%\n", subject, greq.Profile.Marks[subject])
	}
	if len(greq.Profile.Interests) > 0 {
		fmt.Fprintf(&b, "- Interests: %s\n", strings.Join(greq.Profile.Interests, ", "))
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(greq.Query)
	return b.String()
}

// toGenerationParams maps the fingerprinted parameters onto the provider
// contract.
func toGenerationParams(p datatypes.PromptParams) llm.GenerationParams {
	temp := p.Temperature
	maxTokens := p.MaxTokens
	return llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}

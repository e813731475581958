// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cag implements the quality verification pipeline: a linear state
// machine over a single draft.
//
//	Draft → FactCheck → ConsistencyCheck → ConfidenceScore → Decision
//
// FactCheck and ConsistencyCheck are independent given the same draft and
// run concurrently; their issues are joined before scoring. The pipeline is
// deterministic: the same draft against the same fact-store snapshot always
// yields the same decision and confidence.
package cag

import (
	"context"
	"sort"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/facts"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("khanya.guidance.cag")

// SeverityWeights are the per-issue confidence deductions.
type SeverityWeights struct {
	Critical float64
	Major    float64
	Minor    float64
}

// Config holds the tunable verification parameters. The thresholds and
// weights are configuration, not constants: operators adjust them as the
// counselling content evolves.
type Config struct {
	// AcceptThreshold is the minimum confidence for an Accept decision.
	AcceptThreshold float64

	// ReviseThreshold is the minimum confidence for a Revise decision;
	// anything below escalates.
	ReviseThreshold float64

	// Weights are the per-severity confidence deductions.
	Weights SeverityWeights

	// SkippedStagePenalty is deducted per skipped verification stage, so
	// an unreachable fact store biases the decision toward Revise or
	// Escalate rather than silently accepting.
	SkippedStagePenalty float64
}

// DefaultConfig returns the shipped tuning.
func DefaultConfig() Config {
	return Config{
		AcceptThreshold: 0.9,
		ReviseThreshold: 0.5,
		Weights: SeverityWeights{
			Critical: 0.35,
			Major:    0.20,
			Minor:    0.08,
		},
		SkippedStagePenalty: 0.25,
	}
}

// Verifier runs the verification pipeline against one fact store.
// Safe for concurrent use.
type Verifier struct {
	store facts.Store
	cfg   Config
}

// NewVerifier creates a verifier. Zero thresholds fall back to defaults.
func NewVerifier(store facts.Store, cfg Config) *Verifier {
	def := DefaultConfig()
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = def.AcceptThreshold
	}
	if cfg.ReviseThreshold <= 0 {
		cfg.ReviseThreshold = def.ReviseThreshold
	}
	if cfg.Weights == (SeverityWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.SkippedStagePenalty <= 0 {
		cfg.SkippedStagePenalty = def.SkippedStagePenalty
	}
	return &Verifier{store: store, cfg: cfg}
}

// Verify runs the full pipeline over a draft. The returned report is
// complete and immutable; it never carries an error — a failing fact store
// degrades the fact-check stage to skipped instead.
func (v *Verifier) Verify(ctx context.Context, draft string, profile datatypes.SanitisedProfile) datatypes.VerificationReport {
	ctx, span := tracer.Start(ctx, "Verifier.Verify")
	defer span.End()

	start := time.Now()

	var (
		factIssues        []datatypes.Issue
		factSkipped       bool
		consistencyIssues []datatypes.Issue
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		factIssues, factSkipped = v.factCheck(gctx, draft)
		return nil
	})
	g.Go(func() error {
		consistencyIssues = v.consistencyCheck(draft, profile)
		return nil
	})
	_ = g.Wait() // the checks never return an error; results land in the captures

	issues := append(factIssues, consistencyIssues...)
	sortIssues(issues)

	completed := []string{datatypes.StageConsistency, datatypes.StageConfidenceScore, datatypes.StageDecision}
	var skipped []string
	if factSkipped {
		skipped = append(skipped, datatypes.StageFactCheck)
	} else {
		completed = append([]string{datatypes.StageFactCheck}, completed...)
	}

	confidence := v.score(issues, len(skipped))
	decision := v.decide(confidence)

	return datatypes.VerificationReport{
		Decision:        decision,
		Confidence:      confidence,
		Issues:          issues,
		StagesCompleted: completed,
		StagesSkipped:   skipped,
		RequiresHuman:   decision == datatypes.DecisionEscalate,
		ProcessingTime:  time.Since(start),
	}
}

// decide maps a confidence score to a decision.
func (v *Verifier) decide(confidence float64) datatypes.Decision {
	switch {
	case confidence >= v.cfg.AcceptThreshold:
		return datatypes.DecisionAccept
	case confidence >= v.cfg.ReviseThreshold:
		return datatypes.DecisionRevise
	default:
		return datatypes.DecisionEscalate
	}
}

// sortIssues orders issues deterministically so identical inputs produce
// byte-identical reports regardless of which check finished first.
func sortIssues(issues []datatypes.Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Kind != issues[j].Kind {
			return issues[i].Kind < issues[j].Kind
		}
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity < issues[j].Severity
		}
		return issues[i].Detail < issues[j].Detail
	})
}

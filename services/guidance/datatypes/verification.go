// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Decision is the outcome of the verification pipeline for one draft.
type Decision string

const (
	DecisionAccept   Decision = "Accept"
	DecisionRevise   Decision = "Revise"
	DecisionEscalate Decision = "Escalate"
)

// IssueKind categorizes a problem found during verification.
type IssueKind string

const (
	IssueFactualMismatch      IssueKind = "FactualMismatch"
	IssueProfileInconsistency IssueKind = "ProfileInconsistency"
	IssueUnverifiedClaim      IssueKind = "UnverifiedClaim"
	IssuePIIResidue           IssueKind = "PIIResidue"
)

// Severity grades an issue for confidence weighting.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Issue records a single verification finding.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail"`
}

// Stage names as they appear in StagesCompleted.
const (
	StageFactCheck       = "fact_check"
	StageConsistency     = "consistency_check"
	StageConfidenceScore = "confidence_score"
	StageDecision        = "decision"
)

// VerificationReport is produced once per generation attempt and is
// immutable once attached to a response. It is never silently dropped:
// cached entries return it unchanged.
type VerificationReport struct {
	Decision        Decision      `json:"decision"`
	Confidence      float64       `json:"confidence"`
	Issues          []Issue       `json:"issues"`
	StagesCompleted []string      `json:"stagesCompleted"`
	StagesSkipped   []string      `json:"stagesSkipped,omitempty"`
	RevisionCount   int           `json:"revisionCount"`
	RequiresHuman   bool          `json:"requiresHuman"`
	ProcessingTime  time.Duration `json:"-"`
}

// Summary flattens the report into the wire-level CAG digest.
func (r *VerificationReport) Summary() *CAGSummary {
	if r == nil {
		return nil
	}
	return &CAGSummary{
		Decision:         string(r.Decision),
		Confidence:       r.Confidence,
		ProcessingTimeMs: r.ProcessingTime.Milliseconds(),
		IssuesDetected:   len(r.Issues),
		RevisionsApplied: r.RevisionCount,
		RequiresHuman:    r.RequiresHuman,
		StagesCompleted:  r.StagesCompleted,
	}
}

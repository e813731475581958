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

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for inbound payloads.
var validate = validator.New()

// AskRequest is the inbound JSON payload from the assessment front end.
type AskRequest struct {
	Query   string         `json:"query" binding:"required" validate:"required,min=3"`
	Profile AskProfile     `json:"profile" binding:"required"`
	Session SessionPayload `json:"session" binding:"required"`
}

// AskProfile mirrors RawProfile on the wire. Identifying fields are optional;
// marks are required so the consistency checks have something to work with.
type AskProfile struct {
	Name       string             `json:"name"`
	Surname    string             `json:"surname"`
	SchoolName string             `json:"schoolName"`
	Town       string             `json:"town"`
	Marks      map[string]float64 `json:"marks" binding:"required" validate:"required,dive,gte=0,lte=100"`
	Interests  []string           `json:"interests"`
}

// SessionPayload carries consent on the wire as an ISO8601 timestamp.
type SessionPayload struct {
	ConsentGiven     bool   `json:"consentGiven"`
	ConsentTimestamp string `json:"consentTimestamp"`
}

// Validate applies the struct validation rules beyond what gin binding
// enforces and checks that the consent timestamp, when present, parses as
// RFC3339.
func (r *AskRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid guidance request: %w", err)
	}
	if r.Session.ConsentTimestamp != "" {
		if _, err := time.Parse(time.RFC3339, r.Session.ConsentTimestamp); err != nil {
			return fmt.Errorf("invalid consentTimestamp: %w", err)
		}
	}
	return nil
}

// RawProfile converts the wire profile into the internal RawProfile.
func (r *AskRequest) RawProfile() RawProfile {
	return RawProfile{
		Name:       r.Profile.Name,
		Surname:    r.Profile.Surname,
		SchoolName: r.Profile.SchoolName,
		Town:       r.Profile.Town,
		Marks:      r.Profile.Marks,
		Interests:  r.Profile.Interests,
	}
}

// ParsedSession converts the wire session into the internal Session.
// A malformed timestamp is treated as absent; the consent gate then denies.
func (r *AskRequest) ParsedSession() Session {
	s := Session{ConsentGiven: r.Session.ConsentGiven}
	if r.Session.ConsentTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, r.Session.ConsentTimestamp); err == nil {
			s.ConsentTimestamp = &ts
		}
	}
	return s
}

// Response source values.
const (
	SourceGenerated = "generated"
	SourceCache     = "cache"
	SourceDraft     = "draft"
)

// Compliance reports which safeguards a response passed through.
type Compliance struct {
	Consent     bool `json:"consent"`
	Sanitised   bool `json:"sanitised"`
	CagVerified bool `json:"cagVerified"`
}

// CAGSummary is the externally visible digest of a VerificationReport.
type CAGSummary struct {
	Decision         string   `json:"decision"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	IssuesDetected   int      `json:"issuesDetected"`
	RevisionsApplied int      `json:"revisionsApplied"`
	RequiresHuman    bool     `json:"requiresHuman"`
	StagesCompleted  []string `json:"stagesCompleted"`
}

// GuidanceResponse is the externally visible result envelope.
type GuidanceResponse struct {
	Success    bool        `json:"success"`
	Response   string      `json:"response"`
	Source     string      `json:"source"`
	Compliance Compliance  `json:"compliance"`
	CAG        *CAGSummary `json:"cag,omitempty"`
}

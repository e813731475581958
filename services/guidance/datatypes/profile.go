// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the data model shared across the guidance
// service: profiles, sessions, the request/response envelope, and the
// verification report attached to every generated response.
package datatypes

import "time"

// Session carries the recorded consent state for a request. It is captured
// upstream at registration time and is read-only inside this service.
type Session struct {
	ConsentGiven     bool       `json:"consentGiven"`
	ConsentTimestamp *time.Time `json:"consentTimestamp"`
}

// RawProfile is the caller-supplied academic profile. It may contain
// personally identifying fields and must never be sent to a provider or
// persisted by this service.
type RawProfile struct {
	Name       string             `json:"name"`
	Surname    string             `json:"surname"`
	SchoolName string             `json:"schoolName"`
	Town       string             `json:"town"`
	Marks      map[string]float64 `json:"marks"`
	Interests  []string           `json:"interests"`
}

// SanitisedProfile is the generalized, de-identified view of a RawProfile.
// Names and school identifiers are dropped, location is generalized to
// province level, and marks/interests pass through verbatim (they are not
// identifying in isolation for this domain).
type SanitisedProfile struct {
	Province  string             `json:"province"`
	Marks     map[string]float64 `json:"marks"`
	Interests []string           `json:"interests"`
}

// GuidanceRequest is the only object ever handed to the guarded client.
// It is built fresh per request from sanitised data and discarded after use.
type GuidanceRequest struct {
	Query   string
	Profile SanitisedProfile
	Params  PromptParams
}

// PromptParams are the provider-agnostic generation parameters that
// participate in the request fingerprint.
type PromptParams struct {
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

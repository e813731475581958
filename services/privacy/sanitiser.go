// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package privacy implements the PII sanitiser: profile de-identification
// on the way out to a provider, and residual scrubbing of generated text on
// the way back to the caller.
package privacy

import (
	"fmt"
	"strings"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/KhanyaAI/KhanyaGuidance/services/privacy/enforcement"
	"gopkg.in/yaml.v3"
)

// GeneralizedCountry is the location fallback when a town is not in the
// province table. Country level is strictly coarser than province level.
const GeneralizedCountry = "South Africa"

// Sanitiser holds the compiled province table and residual-PII patterns.
// It is immutable after construction and safe for concurrent use.
type Sanitiser struct {
	townToProvince map[string]string
	patterns       []PIIClass
}

// NewSanitiser initializes a Sanitiser from the tables embedded in the
// binary. It performs the following operations:
//
//  1. Unmarshals the embedded province YAML into a lookup map.
//  2. Unmarshals and compiles the residual-PII pattern file.
//  3. Sorts pattern classes by priority.
//
// Returns an error if either embedded table is malformed.
func NewSanitiser() (*Sanitiser, error) {
	var provinceFile ProvinceFile
	if err := yaml.Unmarshal(enforcement.ProvinceTable, &provinceFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded province table: %w", err)
	}

	lookup := make(map[string]string)
	for _, entry := range provinceFile.Provinces {
		for _, town := range entry.Towns {
			lookup[strings.ToLower(strings.TrimSpace(town))] = entry.Name
		}
	}

	var patternFile PIIPatternFile
	if err := yaml.Unmarshal(enforcement.PIIPatterns, &patternFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded PII pattern file: %w", err)
	}
	if err := patternFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a PII regex: %w", err)
	}
	patternFile.SortByPriority()

	return &Sanitiser{
		townToProvince: lookup,
		patterns:       patternFile.Classifications,
	}, nil
}

// LookupProvince generalizes a town or suburb to its containing province.
// Unknown towns fall back to country level rather than passing through.
func (s *Sanitiser) LookupProvince(town string) string {
	if province, ok := s.townToProvince[strings.ToLower(strings.TrimSpace(town))]; ok {
		return province
	}
	return GeneralizedCountry
}

// SanitiseProfile derives the de-identified profile that is allowed to
// leave the service. Name, surname, and school name are dropped entirely;
// the town generalizes to province level; marks and interests pass through
// verbatim (they are not identifying in isolation for this domain).
//
// The returned profile shares no slices or maps with the input, so the raw
// profile can be wiped without affecting it.
func (s *Sanitiser) SanitiseProfile(raw datatypes.RawProfile) datatypes.SanitisedProfile {
	marks := make(map[string]float64, len(raw.Marks))
	for subject, score := range raw.Marks {
		marks[subject] = score
	}
	interests := make([]string, len(raw.Interests))
	copy(interests, raw.Interests)

	return datatypes.SanitisedProfile{
		Province:  s.LookupProvince(raw.Town),
		Marks:     marks,
		Interests: interests,
	}
}

// ScanText runs the residual-PII patterns over a piece of text and returns
// every match. Used by ScrubOutput and exposed for the ingestion tooling.
func (s *Sanitiser) ScanText(text string) []ScanFinding {
	var findings []ScanFinding
	for _, class := range s.patterns {
		for i, re := range class.CompiledPatterns {
			for _, match := range re.FindAllString(text, -1) {
				findings = append(findings, ScanFinding{
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: class.Name,
					PatternId:          class.Patterns[i].Id,
					Confidence:         class.Patterns[i].Confidence,
				})
			}
		}
	}
	return findings
}

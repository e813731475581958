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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint computes a stable hash over the normalized query, the
// sanitised profile, and the provider-agnostic generation parameters.
// Two semantically equivalent requests (same query up to case and
// whitespace, same marks in any order) produce the same fingerprint, which
// is the response-cache key and its deduplication unit.
//
// The hash input is a canonical, field-tagged string rather than JSON so
// that map iteration order can never leak into the digest.
func (r *GuidanceRequest) Fingerprint() string {
	var b strings.Builder

	b.WriteString("q=")
	b.WriteString(normalizeQuery(r.Query))

	b.WriteString(";province=")
	b.WriteString(strings.ToLower(strings.TrimSpace(r.Profile.Province)))

	b.WriteString(";marks=")
	subjects := make([]string, 0, len(r.Profile.Marks))
	for subject := range r.Profile.Marks {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	for _, subject := range subjects {
		fmt.Fprintf(&b, "%s:%.1f,", strings.ToLower(subject), r.Profile.Marks[subject])
	}

	b.WriteString(";interests=")
	interests := make([]string, 0, len(r.Profile.Interests))
	for _, interest := range r.Profile.Interests {
		interests = append(interests, strings.ToLower(strings.TrimSpace(interest)))
	}
	sort.Strings(interests)
	b.WriteString(strings.Join(interests, ","))

	fmt.Fprintf(&b, ";params=%.2f:%d", r.Params.Temperature, r.Params.MaxTokens)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeQuery lowercases and collapses runs of whitespace so trivially
// different phrasings of the same query share a fingerprint.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

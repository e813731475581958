// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cag

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
)

// strongMarkFloor is the minimum mark that justifies calling a subject
// "strong" in counselling text.
const strongMarkFloor = 60.0

// "your strong Mathematics marks" / "strong Physical Sciences results"
var strongClaimRe = regexp.MustCompile(`(?i)strong\s+([A-Za-z][A-Za-z ]+?)\s+(?:marks?|results?|performance|background)`)

// "Mathematics and Physical Sciences" names two subjects, not one.
var subjectSplitRe = regexp.MustCompile(`(?i)\s*(?:,|&|\band\b)\s*`)

// fieldRequirements maps a recommended field of study to the subjects a
// learner's profile must support before the draft may steer them there.
var fieldRequirements = map[string][]subjectRequirement{
	"engineering": {
		{subject: "Mathematics", minimum: 60},
		{subject: "Physical Sciences", minimum: 55},
	},
	"medicine": {
		{subject: "Mathematics", minimum: 65},
		{subject: "Physical Sciences", minimum: 65},
		{subject: "Life Sciences", minimum: 65},
	},
	"computer science": {
		{subject: "Mathematics", minimum: 60},
	},
	"actuarial science": {
		{subject: "Mathematics", minimum: 75},
	},
	"accounting": {
		{subject: "Mathematics", minimum: 55},
	},
}

type subjectRequirement struct {
	subject string
	minimum float64
}

// consistencyCheck verifies that the draft's claims hold against the
// sanitised profile: a "strong <subject>" claim must be backed by an actual
// mark, and a recommended field must not demand subjects the profile does
// not support.
func (v *Verifier) consistencyCheck(draft string, profile datatypes.SanitisedProfile) []datatypes.Issue {
	var issues []datatypes.Issue
	issues = append(issues, checkStrongClaims(draft, profile)...)
	issues = append(issues, checkFieldRecommendations(draft, profile)...)
	return issues
}

// checkStrongClaims flags "strong X" statements the marks do not support.
func checkStrongClaims(draft string, profile datatypes.SanitisedProfile) []datatypes.Issue {
	var issues []datatypes.Issue
	seen := make(map[string]bool)

	for _, m := range strongClaimRe.FindAllStringSubmatch(draft, -1) {
		// A compound claim is judged per subject so that "strong
		// Mathematics and Physical Sciences marks" passes when both
		// individual marks do.
		for _, subject := range splitSubjects(m[1]) {
			key := strings.ToLower(subject)
			if seen[key] {
				continue
			}
			seen[key] = true

			mark, ok := lookupMark(profile.Marks, subject)
			switch {
			case !ok:
				issues = append(issues, datatypes.Issue{
					Kind:     datatypes.IssueProfileInconsistency,
					Severity: datatypes.SeverityMajor,
					Detail:   fmt.Sprintf("draft claims strong %s but the profile has no mark for it", subject),
				})
			case mark < strongMarkFloor:
				issues = append(issues, datatypes.Issue{
					Kind:     datatypes.IssueProfileInconsistency,
					Severity: datatypes.SeverityMajor,
					Detail:   fmt.Sprintf("draft claims strong %s but the profile mark is %.0f", subject, mark),
				})
			}
		}
	}
	return issues
}

// splitSubjects breaks a claimed subject phrase into its conjuncts.
func splitSubjects(phrase string) []string {
	parts := subjectSplitRe.Split(phrase, -1)
	subjects := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			subjects = append(subjects, part)
		}
	}
	return subjects
}

// checkFieldRecommendations flags recommended fields whose subject
// requirements the profile does not meet.
func checkFieldRecommendations(draft string, profile datatypes.SanitisedProfile) []datatypes.Issue {
	var issues []datatypes.Issue
	lower := strings.ToLower(draft)

	// Map iteration order is random; walk the fields sorted so the issue
	// list is deterministic.
	fields := make([]string, 0, len(fieldRequirements))
	for field := range fieldRequirements {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !strings.Contains(lower, field) {
			continue
		}
		for _, req := range fieldRequirements[field] {
			mark, ok := lookupMark(profile.Marks, req.subject)
			if !ok {
				issues = append(issues, datatypes.Issue{
					Kind:     datatypes.IssueProfileInconsistency,
					Severity: datatypes.SeverityMajor,
					Detail: fmt.Sprintf("draft recommends %s but the profile has no %s mark",
						field, req.subject),
				})
				continue
			}
			if mark < req.minimum {
				issues = append(issues, datatypes.Issue{
					Kind:     datatypes.IssueProfileInconsistency,
					Severity: datatypes.SeverityMajor,
					Detail: fmt.Sprintf("draft recommends %s but %s is %.0f (needs %.0f)",
						field, req.subject, mark, req.minimum),
				})
			}
		}
	}
	return issues
}

// lookupMark finds a subject mark case-insensitively.
func lookupMark(marks map[string]float64, subject string) (float64, bool) {
	for name, mark := range marks {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(subject)) {
			return mark, true
		}
	}
	return 0, false
}

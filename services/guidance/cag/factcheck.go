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
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/facts"
)

// Tolerances for numeric comparison against the fact store. Admission
// points are exact figures; salary figures in counselling text are
// routinely rounded, so they get a relative band.
const (
	admissionTolerance     = 0.5
	salaryRelativeBand     = 0.15
	deadlineDayGranularity = 24 * time.Hour
)

var (
	sentenceSplitRe = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

	// "UP's BSc Engineering requires an APS of 42" / "... requires 42 APS points"
	admissionRe = regexp.MustCompile(`(?i)([A-Za-z][A-Za-z' ]+?)\s+requires\s+(?:an?\s+)?(?:aps\s+(?:score\s+)?of\s+(\d+(?:\.\d+)?)|(\d+(?:\.\d+)?)\s+aps\s+points?)`)

	// "the Funza Lushaka bursary closes on 30 September 2025"
	deadlineRe = regexp.MustCompile(`(?i)(?:the\s+)?([A-Za-z][A-Za-z' ]+?)\s+bursary\s+(?:applications?\s+)?(?:closes?\s+(?:on\s+)?|deadline\s+is\s+)(\d{1,2}\s+[A-Za-z]+\s+\d{4})`)

	// "a junior software developer earns around R360,000"
	salaryRe = regexp.MustCompile(`(?i)(?:an?\s+)?([A-Za-z][A-Za-z ]+?)\s+earns?\s+(?:around\s+|about\s+|up\s+to\s+)?R\s?([\d][\d,. ]*)`)
)

// assertion is one checkable factual claim extracted from the draft.
type assertion struct {
	kind    facts.AssertionKind
	subject string
	value   float64
	date    *time.Time
	excerpt string
}

// factCheck extracts factual assertions from the draft and cross-references
// them against the fact store. A store failure degrades the whole stage to
// skipped; scoring treats that conservatively.
func (v *Verifier) factCheck(ctx context.Context, draft string) (issues []datatypes.Issue, skipped bool) {
	for _, a := range extractAssertions(draft) {
		fact, found, err := v.store.Lookup(ctx, a.kind, a.subject)
		if err != nil {
			slog.Warn("Fact store lookup failed, skipping fact check",
				"kind", string(a.kind),
				"subject", a.subject,
				"error", err,
			)
			return nil, true
		}
		if !found {
			issues = append(issues, datatypes.Issue{
				Kind:     datatypes.IssueUnverifiedClaim,
				Severity: datatypes.SeverityMinor,
				Detail:   fmt.Sprintf("no reference for %s %q: %s", a.kind, a.subject, a.excerpt),
			})
			continue
		}
		if issue, ok := compareAssertion(a, fact); ok {
			issues = append(issues, issue)
		}
	}
	return issues, false
}

// compareAssertion checks a draft claim against its reference fact.
func compareAssertion(a assertion, fact facts.Fact) (datatypes.Issue, bool) {
	switch a.kind {
	case facts.KindAdmissionThreshold:
		if diff := a.value - fact.Value; diff > admissionTolerance || diff < -admissionTolerance {
			return datatypes.Issue{
				Kind:     datatypes.IssueFactualMismatch,
				Severity: datatypes.SeverityMajor,
				Detail: fmt.Sprintf("admission threshold for %q: draft says %.0f, reference says %.0f",
					a.subject, a.value, fact.Value),
			}, true
		}

	case facts.KindBursaryDeadline:
		if a.date != nil && fact.Date != nil &&
			!a.date.Truncate(deadlineDayGranularity).Equal(fact.Date.Truncate(deadlineDayGranularity)) {
			return datatypes.Issue{
				Kind:     datatypes.IssueFactualMismatch,
				Severity: datatypes.SeverityMajor,
				Detail: fmt.Sprintf("deadline for %q: draft says %s, reference says %s",
					a.subject, a.date.Format("2 January 2006"), fact.Date.Format("2 January 2006")),
			}, true
		}

	case facts.KindSalaryFigure:
		if fact.Value > 0 {
			rel := (a.value - fact.Value) / fact.Value
			if rel > salaryRelativeBand || rel < -salaryRelativeBand {
				return datatypes.Issue{
					Kind:     datatypes.IssueFactualMismatch,
					Severity: datatypes.SeverityMinor,
					Detail: fmt.Sprintf("salary figure for %q: draft says R%.0f, reference says R%.0f",
						a.subject, a.value, fact.Value),
				}, true
			}
		}
	}
	return datatypes.Issue{}, false
}

// extractAssertions scans the draft sentence by sentence for checkable
// claims. Extraction is intentionally conservative: a claim the patterns
// cannot parse is simply not checked, it never fails the stage.
func extractAssertions(draft string) []assertion {
	var out []assertion
	for _, sentence := range sentenceSplitRe.FindAllString(draft, -1) {
		sentence = strings.TrimSpace(sentence)

		for _, m := range admissionRe.FindAllStringSubmatch(sentence, -1) {
			raw := m[2]
			if raw == "" {
				raw = m[3]
			}
			if value, err := strconv.ParseFloat(raw, 64); err == nil {
				out = append(out, assertion{
					kind:    facts.KindAdmissionThreshold,
					subject: cleanSubject(m[1]),
					value:   value,
					excerpt: sentence,
				})
			}
		}

		for _, m := range deadlineRe.FindAllStringSubmatch(sentence, -1) {
			if ts, err := time.Parse("2 January 2006", m[2]); err == nil {
				date := ts
				out = append(out, assertion{
					kind:    facts.KindBursaryDeadline,
					subject: cleanSubject(m[1]),
					date:    &date,
					excerpt: sentence,
				})
			}
		}

		for _, m := range salaryRe.FindAllStringSubmatch(sentence, -1) {
			raw := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimRight(m[2], ". "))
			if value, err := strconv.ParseFloat(raw, 64); err == nil {
				out = append(out, assertion{
					kind:    facts.KindSalaryFigure,
					subject: cleanSubject(m[1]),
					value:   value,
					excerpt: sentence,
				})
			}
		}
	}
	return out
}

// cleanSubject strips leading articles and filler the capture groups drag in.
func cleanSubject(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"the ", "a ", "an ", "at "} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			lower = lower[len(prefix):]
		}
	}
	return facts.NormalizeSubject(s)
}

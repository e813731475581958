// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package privacy

import (
	"errors"
	"regexp"
	"strings"
)

// ErrAmbiguousRedaction is returned when ScrubOutput cannot certify that
// the result is free of the caller's identifying terms. The pipeline treats
// this as an escalation, never as a crash, and must not return the text.
var ErrAmbiguousRedaction = errors.New("cannot certify generated text as free of personal identifiers")

// minTermLength guards against redacting on very short fragments ("Jo",
// "de") that would shred ordinary prose. Terms below this length are
// ignored by the scrubber.
const minTermLength = 3

var (
	sentenceRe   = regexp.MustCompile(`[^.!?\n]+[.!?]*\s*`)
	multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
	spacePunctRe = regexp.MustCompile(`\s+([.,;:!?])`)
)

// ScrubOutput performs a case-insensitive search-and-redact pass over
// generated text for every literal identifying term (name, surname, school
// name). This defends against a model echoing context it was never given
// directly but managed to reconstruct or that leaked through the query.
//
// Redaction rules, per sentence:
//
//   - A term matched on word boundaries is elided cleanly.
//   - A term found only inside a larger word is an ambiguous partial match;
//     the whole sentence is removed rather than partially redacted.
//   - Residual-PII pattern matches (ID numbers, phone numbers, emails) are
//     replaced with "[redacted]".
//
// After the pass the result is re-scanned. If any term or pattern still
// matches, ScrubOutput returns ErrAmbiguousRedaction and no text.
func (s *Sanitiser) ScrubOutput(text string, terms []string) (string, error) {
	cleaned := make([]termMatcher, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if len(term) < minTermLength {
			continue
		}
		cleaned = append(cleaned, newTermMatcher(term))
	}

	var kept []string
	for _, sentence := range sentenceRe.FindAllString(text, -1) {
		out, drop := s.scrubSentence(sentence, cleaned)
		if drop {
			continue
		}
		out = tidy(out)
		if out != "" {
			kept = append(kept, out)
		}
	}
	result := strings.Join(kept, " ")

	// Certification pass: nothing identifying may survive.
	lower := strings.ToLower(result)
	for _, m := range cleaned {
		if strings.Contains(lower, m.lower) {
			return "", ErrAmbiguousRedaction
		}
	}
	if len(s.ScanText(result)) > 0 {
		return "", ErrAmbiguousRedaction
	}
	return result, nil
}

// scrubSentence redacts one sentence. drop is true when the sentence holds
// an ambiguous partial match and must be removed whole.
func (s *Sanitiser) scrubSentence(sentence string, matchers []termMatcher) (out string, drop bool) {
	out = sentence
	for _, m := range matchers {
		loose := len(m.loose.FindAllStringIndex(out, -1))
		if loose == 0 {
			continue
		}
		bounded := len(m.bounded.FindAllStringIndex(out, -1))
		if loose > bounded {
			// The term is embedded inside a larger word; eliding would
			// leave a mangled residue, so remove the sentence.
			return "", true
		}
		out = m.bounded.ReplaceAllString(out, "")
	}
	for _, class := range s.patterns {
		for _, re := range class.CompiledPatterns {
			out = re.ReplaceAllString(out, "[redacted]")
		}
	}
	return out, false
}

// termMatcher pairs the word-boundary and substring forms of one term.
type termMatcher struct {
	lower   string
	bounded *regexp.Regexp
	loose   *regexp.Regexp
}

func newTermMatcher(term string) termMatcher {
	quoted := regexp.QuoteMeta(term)
	return termMatcher{
		lower:   strings.ToLower(term),
		bounded: regexp.MustCompile(`(?i)\b` + quoted + `\b`),
		loose:   regexp.MustCompile(`(?i)` + quoted),
	}
}

// tidy collapses the whitespace artifacts elision leaves behind.
func tidy(s string) string {
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = spacePunctRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

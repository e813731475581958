// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facts provides read-only access to the structured fact store the
// verification pipeline checks drafts against: institution admission
// thresholds, bursary deadlines, and job-market figures. The store itself is
// populated by an external ingestion pipeline; this package only queries it.
package facts

import (
	"context"
	"errors"
	"strings"
	"time"
)

// AssertionKind names the category of a checkable factual claim.
type AssertionKind string

const (
	// KindAdmissionThreshold is an institution's minimum admission points.
	KindAdmissionThreshold AssertionKind = "admission_threshold"

	// KindBursaryDeadline is a bursary's application closing date.
	KindBursaryDeadline AssertionKind = "bursary_deadline"

	// KindSalaryFigure is a job-market salary figure in rand.
	KindSalaryFigure AssertionKind = "salary_figure"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// The verification pipeline degrades the fact-check stage to "skipped"
// instead of failing the request.
var ErrUnavailable = errors.New("fact store unavailable")

// Fact is one verified reference value keyed by (kind, subject).
type Fact struct {
	Kind    AssertionKind `json:"kind" yaml:"kind"`
	Subject string        `json:"subject" yaml:"subject"`
	Value   float64       `json:"value" yaml:"value"`
	Date    *time.Time    `json:"date,omitempty" yaml:"date,omitempty"`
}

// Store is the read-only fact lookup contract.
type Store interface {
	// Lookup returns the fact for a (kind, subject) pair. found is false
	// when the store has no entry for the pair; err is non-nil only when
	// the store itself failed.
	Lookup(ctx context.Context, kind AssertionKind, subject string) (fact Fact, found bool, err error)
}

// NormalizeSubject canonicalizes a subject for lookup: lowercased with
// collapsed whitespace, so "UP  BSc Engineering" and "up bsc engineering"
// resolve to the same fact.
func NormalizeSubject(subject string) string {
	return strings.Join(strings.Fields(strings.ToLower(subject)), " ")
}

func factKey(kind AssertionKind, subject string) string {
	return string(kind) + "\x00" + NormalizeSubject(subject)
}

// StaticStore is an immutable in-memory store. Used in tests and as the
// default when no snapshot file or remote store is configured.
type StaticStore struct {
	table map[string]Fact
}

// NewStaticStore indexes the given facts by (kind, normalized subject).
func NewStaticStore(list []Fact) *StaticStore {
	table := make(map[string]Fact, len(list))
	for _, f := range list {
		table[factKey(f.Kind, f.Subject)] = f
	}
	return &StaticStore{table: table}
}

// Lookup implements Store. A static store is always available.
func (s *StaticStore) Lookup(_ context.Context, kind AssertionKind, subject string) (Fact, bool, error) {
	fact, ok := s.table[factKey(kind, subject)]
	return fact, ok, nil
}

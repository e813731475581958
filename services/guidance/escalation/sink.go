// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package escalation persists low-confidence verification results for
// asynchronous human review. Submission is fire-and-forget from the
// pipeline's perspective: a sink failure is logged, never surfaced to the
// end user.
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/google/uuid"
)

// Reason names why a record landed in the review queue.
type Reason string

const (
	// ReasonLowConfidence means the verification score fell below the
	// revise threshold.
	ReasonLowConfidence Reason = "low_confidence"

	// ReasonRevisionFailed means the single allowed regeneration attempt
	// could not produce an acceptable draft.
	ReasonRevisionFailed Reason = "revision_failed"

	// ReasonScrubAmbiguous means the output scrub could not certify the
	// text as free of personal identifiers.
	ReasonScrubAmbiguous Reason = "scrub_ambiguous"
)

// Record is one escalated response awaiting human review. The draft holds
// the scrubbed text that was returned to the caller with a disclaimer;
// nothing identifying is ever written to the queue.
type Record struct {
	ID          string                       `json:"id"`
	CreatedAt   time.Time                    `json:"createdAt"`
	Fingerprint string                       `json:"fingerprint"`
	Query       string                       `json:"query"`
	Draft       string                       `json:"draft"`
	Reason      Reason                       `json:"reason"`
	Report      datatypes.VerificationReport `json:"report"`
}

// NewRecord stamps a record with an ID and creation time.
func NewRecord(fingerprint, query, draft string, reason Reason, report datatypes.VerificationReport) Record {
	return Record{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Fingerprint: fingerprint,
		Query:       query,
		Draft:       draft,
		Reason:      reason,
		Report:      report,
	}
}

// Sink is the review-queue contract.
type Sink interface {
	// Submit writes a record to the queue.
	Submit(ctx context.Context, record Record) error

	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)
}

// MemorySink keeps records in memory. Used in tests and as the fallback
// when no database path is configured.
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Submit implements Sink.
func (m *MemorySink) Submit(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// List implements Sink.
func (m *MemorySink) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]Record, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

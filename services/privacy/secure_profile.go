// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file implements secure retention of identifying profile terms for the
// lifetime of one request. The terms are needed twice: never for generation,
// and once for the output scrub. Between those points they live in mlocked
// memory so they cannot be swapped to disk.

package privacy

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// termSeparator joins identifying terms inside the locked buffer. NUL cannot
// occur in a JSON string, so the join is unambiguous.
const termSeparator = "\x00"

var memguardInitOnce sync.Once

// SecureProfile holds the identifying terms of a raw profile (name, surname,
// school name) in a memguard LockedBuffer. The buffer memory is:
//
//   - Locked (mlock) to prevent swapping to disk
//   - Protected by guard pages and canaries
//   - Explicitly zeroed on Destroy()
//
// Safe for concurrent use. Callers must defer Destroy().
type SecureProfile struct {
	id        string
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	destroyed bool
}

// NewSecureProfile captures the identifying terms of a raw profile into
// mlocked memory. Empty terms are skipped; a profile with no identifying
// terms yields a SecureProfile whose Terms() is empty, which is valid.
func NewSecureProfile(raw datatypes.RawProfile) *SecureProfile {
	memguardInitOnce.Do(memguard.CatchInterrupt)

	var terms []string
	for _, term := range []string{raw.Name, raw.Surname, raw.SchoolName} {
		if term = strings.TrimSpace(term); term != "" {
			terms = append(terms, term)
		}
	}

	sp := &SecureProfile{id: uuid.New().String()}
	if len(terms) > 0 {
		sp.buffer = memguard.NewBufferFromBytes([]byte(strings.Join(terms, termSeparator)))
	}

	slog.Debug("Created secure profile",
		"profile_id", sp.id,
		"term_count", len(terms),
	)
	return sp
}

// Terms returns a copy of the identifying terms for the scrubbing pass.
// Returns nil after Destroy() or when the profile held no terms.
func (sp *SecureProfile) Terms() []string {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.destroyed || sp.buffer == nil {
		return nil
	}
	return strings.Split(string(sp.buffer.Bytes()), termSeparator)
}

// ID returns the unique identifier of this profile for logging.
func (sp *SecureProfile) ID() string {
	return sp.id
}

// Destroy wipes the locked buffer. Idempotent; the profile is unusable
// afterwards.
func (sp *SecureProfile) Destroy() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.destroyed {
		return
	}
	if sp.buffer != nil {
		sp.buffer.Destroy()
	}
	sp.destroyed = true

	slog.Debug("Destroyed secure profile", "profile_id", sp.id)
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Called during
// graceful shutdown; afterwards every live SecureProfile is invalid.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}

// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache maps request fingerprints to previously verified responses.
// It is the only shared mutable state in the service, so it also carries the
// single-flight guarantee: at most one concurrent generation per fingerprint.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a verified response stays servable.
	DefaultTTL = 6 * time.Hour

	// DefaultCapacity bounds the number of cached responses.
	DefaultCapacity = 1024
)

// Entry is one verified response keyed by its request fingerprint. Entries
// are immutable once stored; the attached report is returned unchanged on
// every hit.
type Entry struct {
	Fingerprint string
	Response    string
	Report      datatypes.VerificationReport
	CreatedAt   time.Time
}

// ComputeFunc produces a verified response on a cache miss. A failed or
// cancelled computation must return a non-nil error; such results are never
// cached.
type ComputeFunc func(ctx context.Context) (Entry, error)

// record wraps an entry with its position in the LRU list.
type record struct {
	entry      Entry
	lruElement *list.Element
}

// Stats are the cache counters exposed through the health endpoint.
type Stats struct {
	EntryCount int   `json:"entryCount"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	Computes   int64 `json:"computes"`
}

// ResponseCache is a TTL+LRU cache with single-flight computation.
//
// Thread Safety:
//
//	Safe for concurrent use. The entry map is guarded by an RWMutex;
//	concurrent GetOrCompute calls for the same fingerprint share one
//	in-flight computation via singleflight.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*record
	lru     *list.List
	flight  singleflight.Group

	ttl      time.Duration
	capacity int
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
	computes  int64
}

// NewResponseCache creates a cache. Non-positive ttl or capacity fall back
// to the defaults.
func NewResponseCache(ttl time.Duration, capacity int) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResponseCache{
		entries:  make(map[string]*record),
		lru:      list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the live entry for a fingerprint, if any. Expired entries are
// removed on the way out and reported as misses.
func (c *ResponseCache) Get(fingerprint string) (Entry, bool) {
	c.mu.RLock()
	rec, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return Entry{}, false
	}
	if c.isExpired(rec.entry) {
		c.removeExpired(fingerprint)
		atomic.AddInt64(&c.misses, 1)
		return Entry{}, false
	}

	c.touch(rec)
	atomic.AddInt64(&c.hits, 1)
	return rec.entry, true
}

// GetOrCompute returns the cached entry for a fingerprint, or runs compute
// to produce one. fromCache is false only for the caller whose compute
// actually ran; followers joining an in-flight computation and callers hit
// by the stored entry report true. Exactly one provider-facing computation
// runs per fingerprint regardless of how many callers arrive concurrently.
//
// A compute error (including cancellation) is returned to every waiting
// caller and nothing is stored.
func (c *ResponseCache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (Entry, bool, error) {
	if entry, ok := c.Get(fingerprint); ok {
		return entry, true, nil
	}

	// The closure only runs for the flight leader, so this flag stays
	// false for followers and attributes the computation to the caller
	// that performed it.
	var computed bool
	result, err, _ := c.flight.Do(fingerprint, func() (interface{}, error) {
		// Re-check under the flight: another caller may have stored the
		// entry between our miss and this callback.
		c.mu.RLock()
		rec, ok := c.entries[fingerprint]
		c.mu.RUnlock()
		if ok && !c.isExpired(rec.entry) {
			return rec.entry, nil
		}

		computed = true
		atomic.AddInt64(&c.computes, 1)
		entry, err := compute(ctx)
		if err != nil {
			return Entry{}, err
		}
		if err := ctx.Err(); err != nil {
			// A cancelled request must not populate the cache.
			return Entry{}, err
		}

		entry.Fingerprint = fingerprint
		entry.CreatedAt = c.now()
		c.store(entry)
		return entry, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return result.(Entry), !computed, nil
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		EntryCount: count,
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
		Evictions:  atomic.LoadInt64(&c.evictions),
		Computes:   atomic.LoadInt64(&c.computes),
	}
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*record)
	c.lru.Init()
}

func (c *ResponseCache) isExpired(entry Entry) bool {
	return c.now().Sub(entry.CreatedAt) > c.ttl
}

// store inserts an entry, evicting from the LRU tail when at capacity.
func (c *ResponseCache) store(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[entry.Fingerprint]; ok {
		existing.entry = entry
		c.lru.MoveToFront(existing.lruElement)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(string))
		atomic.AddInt64(&c.evictions, 1)
	}

	c.entries[entry.Fingerprint] = &record{
		entry:      entry,
		lruElement: c.lru.PushFront(entry.Fingerprint),
	}
}

// touch moves an entry to the front of the LRU list.
func (c *ResponseCache) touch(rec *record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.lruElement != nil {
		c.lru.MoveToFront(rec.lruElement)
	}
}

func (c *ResponseCache) removeExpired(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(fingerprint)
}

// removeLocked removes an entry. Caller must hold the write lock.
func (c *ResponseCache) removeLocked(fingerprint string) {
	rec, ok := c.entries[fingerprint]
	if !ok {
		return
	}
	if rec.lruElement != nil {
		c.lru.Remove(rec.lruElement)
	}
	delete(c.entries, fingerprint)
}

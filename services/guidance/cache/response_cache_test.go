// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// Licensed under the GNU Affero General Public License v3. See LICENSE.txt.

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFor(text string) ComputeFunc {
	return func(context.Context) (Entry, error) {
		return Entry{
			Response: text,
			Report:   datatypes.VerificationReport{Decision: datatypes.DecisionAccept, Confidence: 0.9},
		}, nil
	}
}

func TestResponseCache_MissThenHit(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)

	_, ok := c.Get("fp-1")
	assert.False(t, ok)

	entry, fromCache, err := c.GetOrCompute(context.Background(), "fp-1", entryFor("answer"))
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "answer", entry.Response)

	hit, ok := c.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, "answer", hit.Response)
	assert.Equal(t, datatypes.DecisionAccept, hit.Report.Decision)
}

func TestResponseCache_ConcurrentCallersShareOneComputation(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)

	var computeCount atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(context.Context) (Entry, error) {
		computeCount.Add(1)
		close(started)
		<-release
		return Entry{Response: "shared answer"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Entry, callers)
	fromCache := make([]bool, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], fromCache[0], errs[0] = c.GetOrCompute(context.Background(), "fp", compute)
	}()

	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], fromCache[i], errs[i] = c.GetOrCompute(context.Background(), "fp", compute)
		}(i)
	}
	// Give the stragglers a moment to join the in-flight computation.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), computeCount.Load(), "exactly one computation per fingerprint")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared answer", results[i].Response)
	}
	assert.False(t, fromCache[0], "the caller that ran the computation is not a cache hit")
	for i := 1; i < callers; i++ {
		assert.True(t, fromCache[i], "followers joining the in-flight computation report a hit")
	}
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _, err := c.GetOrCompute(context.Background(), "fp", entryFor("answer"))
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	_, ok := c.Get("fp")
	assert.True(t, ok, "entry inside TTL must be servable")

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("fp")
	assert.False(t, ok, "entry past TTL must expire")
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestResponseCache_LRUEviction(t *testing.T) {
	c := NewResponseCache(time.Hour, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := c.GetOrCompute(ctx, fmt.Sprintf("fp-%d", i), entryFor("x"))
		require.NoError(t, err)
	}

	// Touch fp-0 so fp-1 becomes the LRU victim.
	_, ok := c.Get("fp-0")
	require.True(t, ok)

	_, _, err := c.GetOrCompute(ctx, "fp-2", entryFor("x"))
	require.NoError(t, err)

	_, ok = c.Get("fp-0")
	assert.True(t, ok)
	_, ok = c.Get("fp-1")
	assert.False(t, ok, "least recently used entry must be evicted")
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestResponseCache_FailedComputeNotCached(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)
	boom := errors.New("provider exhausted")

	_, _, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) (Entry, error) {
		return Entry{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Stats().EntryCount)

	// A later compute for the same fingerprint runs fresh and succeeds.
	entry, _, err := c.GetOrCompute(context.Background(), "fp", entryFor("recovered"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", entry.Response)
}

func TestResponseCache_CancelledComputeNotCached(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)
	ctx, cancel := context.WithCancel(context.Background())

	_, _, err := c.GetOrCompute(ctx, "fp", func(ctx context.Context) (Entry, error) {
		cancel()
		return Entry{Response: "partial"}, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Stats().EntryCount, "cancelled computation must not populate the cache")
}

func TestResponseCache_Clear(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)

	_, _, err := c.GetOrCompute(context.Background(), "fp", entryFor("x"))
	require.NoError(t, err)

	c.Clear()
	assert.Equal(t, 0, c.Stats().EntryCount)
}

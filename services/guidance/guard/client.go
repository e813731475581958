// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/llm"
	"golang.org/x/time/rate"
)

// DefaultAttemptTimeout bounds a single provider attempt. Total wall-clock
// time for an exhausted provider list is at most providers × this value.
const DefaultAttemptTimeout = 5 * time.Second

// ErrAllProvidersExhausted is returned when every provider in the order was
// tried, skipped, or open. The caller converts this into a safe fallback
// message; it is never surfaced to the end user as an error.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ProviderCallResult records the outcome of one provider attempt.
type ProviderCallResult struct {
	ProviderID string        `json:"providerId"`
	Text       string        `json:"-"`
	LatencyMs  int64         `json:"latencyMs"`
	Succeeded  bool          `json:"succeeded"`
	ErrorKind  llm.ErrorKind `json:"errorKind,omitempty"`
}

// Config configures the guarded client.
type Config struct {
	// AttemptTimeout bounds each provider attempt. Default: 5 seconds.
	AttemptTimeout time.Duration

	// Breaker is the shared per-provider circuit breaker configuration.
	Breaker BreakerConfig

	// RateLimit is the sustained outbound request rate per provider.
	// Zero disables rate limiting.
	RateLimit rate.Limit

	// RateBurst is the per-provider burst allowance. Default: 1 when
	// rate limiting is enabled.
	RateBurst int
}

// GuardedClient calls providers in priority order with a per-attempt
// timeout, skipping providers whose circuit is open or whose rate budget is
// spent. Attempts are strictly sequential: two providers are never called in
// parallel, so a failed call is never billed twice.
//
// Safe for concurrent use.
type GuardedClient struct {
	providers      map[string]llm.LLMClient
	breakers       *BreakerRegistry
	limiters       map[string]*rate.Limiter
	attemptTimeout time.Duration
}

// NewGuardedClient wraps the given drivers. Providers are keyed by their
// Name(); the priority order is supplied per call, not fixed here.
func NewGuardedClient(clients []llm.LLMClient, cfg Config) *GuardedClient {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	providers := make(map[string]llm.LLMClient, len(clients))
	limiters := make(map[string]*rate.Limiter, len(clients))
	for _, c := range clients {
		providers[c.Name()] = c
		if cfg.RateLimit > 0 {
			limiters[c.Name()] = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
		}
	}

	return &GuardedClient{
		providers:      providers,
		breakers:       NewBreakerRegistry(cfg.Breaker),
		limiters:       limiters,
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// Call tries each provider in order until one succeeds. Every failure mode
// of a single provider (timeout, transient error, open circuit, spent rate
// budget) moves on to the next provider; only a cancelled parent context or
// a fully exhausted order ends the call.
//
// On success the returned result carries the generated text. On exhaustion
// the error is ErrAllProvidersExhausted and the result records the last
// provider actually attempted; it is zero-valued when every provider was
// skipped without an attempt.
func (g *GuardedClient) Call(ctx context.Context, prompt string, params llm.GenerationParams, order []string) (ProviderCallResult, error) {
	var last ProviderCallResult

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		client, ok := g.providers[name]
		if !ok {
			slog.Warn("Unknown provider in order, skipping", "provider", name)
			continue
		}

		// Skipped providers are never attempts; last only ever records a
		// call that actually went out.
		breaker := g.breakers.Get(name)
		if !breaker.Allow() {
			slog.Debug("Provider circuit open, skipping", "provider", name)
			continue
		}

		if limiter, ok := g.limiters[name]; ok && !limiter.Allow() {
			slog.Debug("Provider rate budget spent, skipping", "provider", name)
			continue
		}

		result := g.attempt(ctx, client, prompt, params)
		if result.Succeeded {
			breaker.RecordSuccess()
			return result, nil
		}
		breaker.RecordFailure()

		slog.Warn("Provider attempt failed, trying next",
			"provider", name,
			"error_kind", string(result.ErrorKind),
			"latency_ms", result.LatencyMs,
		)
		last = result
	}

	if err := ctx.Err(); err != nil {
		return last, err
	}
	return last, fmt.Errorf("%w: tried %d providers", ErrAllProvidersExhausted, len(order))
}

// attempt runs one provider call bounded by the attempt timeout.
func (g *GuardedClient) attempt(ctx context.Context, client llm.LLMClient, prompt string, params llm.GenerationParams) ProviderCallResult {
	attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	start := time.Now()
	text, err := client.Generate(attemptCtx, prompt, params)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return ProviderCallResult{
			ProviderID: client.Name(),
			LatencyMs:  latency,
			ErrorKind:  llm.KindOf(err),
		}
	}
	return ProviderCallResult{
		ProviderID: client.Name(),
		Text:       text,
		LatencyMs:  latency,
		Succeeded:  true,
	}
}

// BreakerStates exposes the circuit state per provider for the health
// endpoint.
func (g *GuardedClient) BreakerStates() map[string]string {
	return g.breakers.States()
}

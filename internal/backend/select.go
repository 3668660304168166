// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
)

// Selector tries backends in a fixed preference order, falling through to
// the next on an unhealthy or failing backend — the same strict-order
// check shape as internal/router.RouteQuery's tier walk, generalized from
// cost tiers to backend availability.
type Selector struct {
	chain  []Generator
	health *HealthCache
}

// NewSelector builds a Selector that tries chain in order. chain[0] is
// the primary backend (config's backend.primary); the rest are fallback
// candidates, consulted only if enable_fallback is set by the caller
// (the Orchestrator decides whether to pass a chain of length 1 or more).
func NewSelector(health *HealthCache, chain ...Generator) *Selector {
	return &Selector{chain: chain, health: health}
}

// SelectionError reports which backends were tried and why each was
// skipped, so the Orchestrator can surface a useful "all backends
// unavailable" message instead of a bare error.
type SelectionError struct {
	Attempts []AttemptDetail
}

type AttemptDetail struct {
	Backend Kind
	Reason  string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("backend: no healthy backend among %d candidates", len(e.Attempts))
}

// Select returns the first backend in the chain whose health check
// passes. It does not call Generate — that is a separate step so the
// Orchestrator can log which backend was chosen before spending a
// generation call on it.
func (s *Selector) Select(ctx context.Context) (Generator, error) {
	var attempts []AttemptDetail
	for _, gen := range s.chain {
		health, err := s.health.Get(ctx, gen)
		if err != nil {
			attempts = append(attempts, AttemptDetail{Backend: gen.Kind(), Reason: err.Error()})
			continue
		}
		if !health.Available {
			reason := health.Detail
			if reason == "" {
				reason = "unavailable"
			}
			attempts = append(attempts, AttemptDetail{Backend: gen.Kind(), Reason: reason})
			continue
		}
		return gen, nil
	}
	return nil, &SelectionError{Attempts: attempts}
}

// GenerateWithFallback walks the chain, calling Generate on the first
// healthy backend; if that backend's Generate call itself fails (as
// opposed to its Health probe), it invalidates that backend's cached
// health and tries the next one. This is the Orchestrator's only
// fallback entrypoint — backends themselves never retry (§4.D).
func (s *Selector) GenerateWithFallback(ctx context.Context, prompt string, params Params) (Candidate, error) {
	var attempts []AttemptDetail
	for _, gen := range s.chain {
		health, err := s.health.Get(ctx, gen)
		if err != nil || !health.Available {
			reason := "unavailable"
			if err != nil {
				reason = err.Error()
			} else if health.Detail != "" {
				reason = health.Detail
			}
			attempts = append(attempts, AttemptDetail{Backend: gen.Kind(), Reason: reason})
			continue
		}

		candidate, genErr := gen.Generate(ctx, prompt, params)
		if genErr == nil {
			return candidate, nil
		}
		s.health.Invalidate(gen.Kind())
		attempts = append(attempts, AttemptDetail{Backend: gen.Kind(), Reason: genErr.Error()})
	}
	return Candidate{}, &SelectionError{Attempts: attempts}
}

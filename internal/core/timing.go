// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core

import (
	"context"
	"time"

	"github.com/wildcard/shellsage/internal/backend"
	"github.com/wildcard/shellsage/internal/patterns"
	"github.com/wildcard/shellsage/internal/refine"
	"github.com/wildcard/shellsage/internal/safety"
)

// timingBackend wraps a refine.Backend and accumulates time spent inside
// Generate, so the Orchestrator can report a generation-only figure in
// §6's timings_ms even though the refinement loop interleaves generation
// and validation internally.
type timingBackend struct {
	inner   refine.Backend
	elapsed time.Duration
}

func (t *timingBackend) Generate(ctx context.Context, prompt string, params backend.Params) (backend.Candidate, error) {
	start := time.Now()
	candidate, err := t.inner.Generate(ctx, prompt, params)
	t.elapsed += time.Since(start)
	return candidate, err
}

// timingValidator is timingBackend's counterpart for the Validator side
// of the same split.
type timingValidator struct {
	inner   refine.Validator
	elapsed time.Duration
}

func (t *timingValidator) Validate(command string, shell patterns.Shell) safety.Result {
	start := time.Now()
	result := t.inner.Validate(command, shell)
	t.elapsed += time.Since(start)
	return result
}

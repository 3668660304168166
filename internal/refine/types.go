// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package refine

import (
	"context"
	"time"

	"github.com/wildcard/shellsage/internal/backend"
	"github.com/wildcard/shellsage/internal/contextcap"
	"github.com/wildcard/shellsage/internal/patterns"
	"github.com/wildcard/shellsage/internal/safety"
)

// Backend is the narrow surface refine needs from a selected Generator —
// deadline-bearing single-shot generation. The Orchestrator supplies a
// concrete backend.Generator (or a Selector wrapping several).
type Backend interface {
	Generate(ctx context.Context, prompt string, params backend.Params) (backend.Candidate, error)
}

// Validator is the narrow surface refine needs from the Safety Validator.
type Validator interface {
	Validate(command string, shell patterns.Shell) safety.Result
}

// Request is one refinement loop invocation's input.
type Request struct {
	Prompt             string
	ExecContext        contextcap.ExecutionContext
	SafetyLevel        safety.Level
	Deadline           time.Time // total wall-clock budget for the whole loop
	StrictAvailability bool      // §4.F: a pass-1 command whose leading tool was probed and found missing triggers pass 2
}

// Result is the refinement loop's output, consumed by the Orchestrator to
// assemble GeneratedCommand.
type Result struct {
	Command           string
	Explanation       string
	Alternatives      []string
	ParseOK           bool
	Confidence        float64
	IterationCount    int
	PartialRefinement bool
	Validation        safety.Result
	BackendUsed       backend.Kind
}

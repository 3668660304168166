// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/wildcard/shellsage/internal/backend"
	"github.com/wildcard/shellsage/internal/config"
	"github.com/wildcard/shellsage/internal/contextcap"
	"github.com/wildcard/shellsage/internal/patterns"
	"github.com/wildcard/shellsage/internal/refine"
	"github.com/wildcard/shellsage/internal/safety"
)

// defaultDeadlineMS is §6's documented default when Request.DeadlineMS is
// zero.
const defaultDeadlineMS = 5000

// healthCacheTTL bounds how long a backend's health probe is trusted
// before the Selector re-checks it.
const healthCacheTTL = 5 * time.Second

// Run executes the full pipeline (§4.G): capture context (B), select a
// backend chain (D), run refinement (F) which in turn validates each
// candidate (E), and assemble the result. It never writes to stdout or
// disk; all output is the returned GeneratedCommand or error.
func Run(ctx context.Context, req Request, cfg *config.Config) (*GeneratedCommand, error) {
	start := time.Now()

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &CoreError{
			Kind:    ErrKindInput,
			Message: "prompt must not be empty",
			Hint:    "pass a non-empty natural-language request",
		}
	}

	safetyLevel, err := resolveSafetyLevel(req, cfg)
	if err != nil {
		return nil, &CoreError{
			Kind:    ErrKindInput,
			Message: err.Error(),
			Hint:    "safety level must be one of: strict, moderate, permissive",
		}
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	logger := log.Default().With("request_id", id.String())

	deadlineMS := req.DeadlineMS
	if deadlineMS <= 0 {
		deadlineMS = defaultDeadlineMS
	}
	deadline := start.Add(time.Duration(deadlineMS) * time.Millisecond)

	ctxStart := time.Now()
	execCtx := contextcap.Capture(contextcap.Overrides{Shell: req.ShellOverride})
	contextElapsed := time.Since(ctxStart)
	logger.Debug("context captured", "os", execCtx.OS, "shell", execCtx.Shell, "elapsed_ms", contextElapsed.Milliseconds())

	chain, err := buildBackendChain(cfg)
	if err != nil {
		return nil, &CoreError{
			Kind:    ErrKindBackendFatal,
			Message: "could not construct backend chain",
			Hint:    "check backend.primary and its endpoint configuration",
			Cause:   err,
		}
	}

	healthCache := backend.NewHealthCache(healthCacheTTL)
	selector := backend.NewSelector(healthCache, chain...)

	engine, err := patterns.Compile(cfg.Safety.CustomPatterns)
	if err != nil {
		logger.Warn("custom pattern compilation failed, falling back to built-in catalog", "error", err)
		engine = patterns.Default()
	}
	allowList := safety.NewAllowList(cfg.Safety.AllowList)
	validator := safety.New(safetyLevel, engine, allowList)

	tBackend := &timingBackend{inner: &selectorAdapter{sel: selector}}
	tValidator := &timingValidator{inner: validator}
	loop := refine.New(tBackend, tValidator)

	result, err := loop.Run(ctx, refine.Request{
		Prompt:      req.Prompt,
		ExecContext: execCtx,
		SafetyLevel: safetyLevel,
		Deadline:    deadline,
	})
	totalElapsed := time.Since(start)
	if err != nil {
		coreErr := classifyBackendError(err)
		logger.Error("generation failed", "kind", coreErr.Kind, "error", err)
		return nil, coreErr
	}

	shell := resolveShellString(execCtx.Shell, req.ShellOverride)

	var suggestedSafer *string
	if result.Validation.SuggestedSafer != "" {
		s := result.Validation.SuggestedSafer
		suggestedSafer = &s
	}

	matched := make([]MatchedPattern, 0, len(result.Validation.Matched))
	for _, m := range result.Validation.Matched {
		matched = append(matched, MatchedPattern{Name: m.Name, Reason: m.Reason})
	}

	cmd := &GeneratedCommand{
		Command:           result.Command,
		Shell:             shell,
		RiskLevel:         result.Validation.Risk.String(),
		Gate:              result.Validation.Gate.String(),
		Explanation:       result.Explanation,
		Alternatives:      result.Alternatives,
		MatchedPatterns:   matched,
		SuggestedSafer:    suggestedSafer,
		Confidence:        result.Confidence,
		Iterations:        result.IterationCount,
		PartialRefinement: result.PartialRefinement,
		Timings: Timings{
			Context:    contextElapsed,
			Generation: tBackend.elapsed,
			Validation: tValidator.elapsed,
			Total:      totalElapsed,
		},
		ID: id,
	}

	logger.Debug("request complete",
		"iterations", cmd.Iterations,
		"gate", cmd.Gate,
		"risk", cmd.RiskLevel,
		"total_ms", totalElapsed.Milliseconds(),
	)

	return cmd, nil
}

func resolveSafetyLevel(req Request, cfg *config.Config) (safety.Level, error) {
	if req.SafetyOverride != nil {
		return *req.SafetyOverride, nil
	}
	return safety.ParseLevel(cfg.General.SafetyLevel)
}

// resolveShellString reports the shell the generated command targets: an
// explicit override wins, otherwise whatever Context Capture resolved.
func resolveShellString(captured contextcap.ShellType, override contextcap.ShellType) string {
	if override != contextcap.ShellUnknown {
		return override.String()
	}
	return captured.String()
}

// classifyBackendError maps a refine.Loop error (which wraps a backend
// or selection failure) onto §7's taxonomy.
func classifyBackendError(err error) *CoreError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "deadline already exceeded") {
		return &CoreError{
			Kind:    ErrKindCancelled,
			Message: "request deadline exceeded",
			Hint:    "increase deadline_ms or investigate backend latency",
			Cause:   err,
		}
	}

	if errors.Is(err, refine.ErrUnparseable) {
		// A ParseError that survives the second pass is reported under
		// its own ErrKindParse kind, separate from ErrKindBackendTransient.
		return &CoreError{
			Kind:    ErrKindParse,
			Message: "backend never produced a parseable command",
			Hint:    "the model may need a different prompt or a larger/more capable model",
			Cause:   err,
		}
	}

	var selErr *backend.SelectionError
	if errors.As(err, &selErr) {
		return &CoreError{
			Kind:    ErrKindBackendTransient,
			Message: "no healthy backend available",
			Hint:    selectionHint(selErr),
			Cause:   err,
		}
	}

	var backendErr *backend.Error
	if errors.As(err, &backendErr) {
		switch backendErr.Kind {
		case backend.ErrKindUnreachable, backend.ErrKindTimeout, backend.ErrKindRateLimited:
			return &CoreError{
				Kind:    ErrKindBackendTransient,
				Message: backendErr.Error(),
				Hint:    fmt.Sprintf("check that the %s backend is running and reachable", backendErr.Backend),
				Cause:   err,
			}
		default:
			return &CoreError{
				Kind:    ErrKindBackendFatal,
				Message: backendErr.Error(),
				Hint:    "check backend authentication and configuration",
				Cause:   err,
			}
		}
	}

	return &CoreError{
		Kind:    ErrKindBackendFatal,
		Message: err.Error(),
		Cause:   err,
	}
}

func selectionHint(sel *backend.SelectionError) string {
	if len(sel.Attempts) == 0 {
		return "no backends configured"
	}
	first := sel.Attempts[0]
	return fmt.Sprintf("check that %s is reachable: %s", first.Backend, first.Reason)
}

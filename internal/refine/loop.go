// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wildcard/shellsage/internal/backend"
	"github.com/wildcard/shellsage/internal/contextcap"
	"github.com/wildcard/shellsage/internal/patterns"
	"github.com/wildcard/shellsage/internal/safety"
)

// validationReserve is carved out of the total deadline so the Safety
// Validator (a <50ms operation, per §4.A/§4.E) always has room to run
// after the backend returns, per §4.F's deadline split.
const validationReserve = 300 * time.Millisecond

// confidenceThreshold below which a second pass is warranted (§4.F).
const confidenceThreshold = 0.75

// ErrUnparseable is returned when neither pass produces a command the
// Validator can assess. Per the ParseError propagation policy, this is
// fail-closed: the Orchestrator must surface it rather than return a
// zero-value, implicitly-Safe result.
var ErrUnparseable = errors.New("refine: neither pass produced a parseable command")

// Loop runs the two-pass refinement algorithm.
type Loop struct {
	backend   Backend
	validator Validator
}

func New(b Backend, v Validator) *Loop {
	return &Loop{backend: b, validator: v}
}

// Run executes at most two backend passes and returns the chosen
// candidate with its validation result.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	now := time.Now()
	budgetDeadline := req.Deadline.Add(-validationReserve)
	remaining := budgetDeadline.Sub(now)
	if remaining <= 0 {
		return Result{}, fmt.Errorf("refine: deadline already exceeded before pass 1")
	}

	shell := toPatternShell(req.ExecContext.Shell)

	pass1Deadline := now.Add(remaining / 2)
	prompt1 := buildPromptPass1(req)
	candidate1, err := l.backend.Generate(ctx, prompt1, backend.Params{
		Temperature:     0.2,
		MaxTokens:       256,
		Deadline:        pass1Deadline,
		ConfidenceProbe: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("refine: pass 1 generation failed: %w", err)
	}

	command1, parseOK1 := parseCandidate(candidate1.RawText)
	explanation1, alternatives1 := parseEnvelope(candidate1.RawText)
	var validation1 safety.Result
	if parseOK1 {
		validation1 = l.validator.Validate(command1, shell)
	}

	if !needsSecondPass(req, candidate1, command1, parseOK1, validation1) {
		return Result{
			Command:        command1,
			Explanation:    explanation1,
			Alternatives:   alternatives1,
			ParseOK:        parseOK1,
			Confidence:     candidate1.Confidence,
			IterationCount: 1,
			Validation:     validation1,
			BackendUsed:    candidate1.BackendUsed,
		}, nil
	}

	if time.Now().After(budgetDeadline) {
		if !parseOK1 {
			return Result{}, fmt.Errorf("%w: deadline exhausted before pass 2 could refine an unparseable pass 1", ErrUnparseable)
		}
		return Result{
			Command:           command1,
			Explanation:       explanation1,
			Alternatives:      alternatives1,
			ParseOK:           parseOK1,
			Confidence:        candidate1.Confidence,
			IterationCount:    2,
			PartialRefinement: true,
			Validation:        validation1,
			BackendUsed:       candidate1.BackendUsed,
		}, nil
	}

	prompt2 := buildPromptPass2(req, command1, parseOK1, validation1)
	candidate2, err := l.backend.Generate(ctx, prompt2, backend.Params{
		Temperature:     0.2,
		MaxTokens:       256,
		Deadline:        budgetDeadline,
		ConfidenceProbe: true,
	})
	if err != nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if !parseOK1 {
			return Result{}, fmt.Errorf("%w: pass 2 generation failed after an unparseable pass 1", ErrUnparseable)
		}
		return Result{
			Command:           command1,
			Explanation:       explanation1,
			Alternatives:      alternatives1,
			ParseOK:           parseOK1,
			Confidence:        candidate1.Confidence,
			IterationCount:    2,
			PartialRefinement: true,
			Validation:        validation1,
			BackendUsed:       candidate1.BackendUsed,
		}, nil
	}

	command2, parseOK2 := parseCandidate(candidate2.RawText)
	explanation2, alternatives2 := parseEnvelope(candidate2.RawText)
	if !parseOK2 {
		if !parseOK1 {
			// Neither pass parsed: there is no safe candidate to fall back
			// to. Returning command1 (empty) with validation1's zero value
			// would read as risk=Safe, gate=Allow, which is the opposite
			// of fail-closed.
			return Result{}, fmt.Errorf("%w: pass 1 and pass 2 both unparseable", ErrUnparseable)
		}
		return Result{
			Command:        command1,
			Explanation:    explanation1,
			Alternatives:   alternatives1,
			ParseOK:        parseOK1,
			Confidence:     candidate1.Confidence,
			IterationCount: 2,
			Validation:     validation1,
			BackendUsed:    candidate1.BackendUsed,
		}, nil
	}

	validation2 := l.validator.Validate(command2, shell)
	if parseOK1 && validation2.Risk > validation1.Risk {
		// Pass 2 made things riskier; spec requires it never increases risk.
		return Result{
			Command:        command1,
			Explanation:    explanation1,
			Alternatives:   alternatives1,
			ParseOK:        parseOK1,
			Confidence:     candidate1.Confidence,
			IterationCount: 2,
			Validation:     validation1,
			BackendUsed:    candidate1.BackendUsed,
		}, nil
	}

	return Result{
		Command:        command2,
		Explanation:    explanation2,
		Alternatives:   alternatives2,
		ParseOK:        parseOK2,
		Confidence:     candidate2.Confidence,
		IterationCount: 2,
		Validation:     validation2,
		BackendUsed:    candidate2.BackendUsed,
	}, nil
}

// needsSecondPass implements §4.F's four-way OR decision.
func needsSecondPass(req Request, candidate1 backend.Candidate, command1 string, parseOK bool, validation1 safety.Result) bool {
	if candidate1.Confidence > 0 && candidate1.Confidence < confidenceThreshold {
		return true
	}
	if !parseOK {
		return true
	}
	if validation1.Risk >= patterns.RiskHigh && req.SafetyLevel != safety.LevelPermissive {
		return true
	}
	if req.StrictAvailability && parseOK && !commandAvailable(req.ExecContext, command1) {
		return true
	}
	return false
}

// commandAvailable reports whether command's leading token is a probed
// tool that came back missing from PATH. Tools outside the fixed probe
// list are assumed available — the probe is a small allow-list, not
// exhaustive, and an unprobed tool is not evidence of absence.
func commandAvailable(execCtx contextcap.ExecutionContext, command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return true
	}
	lead := fields[0]
	found, probed := execCtx.AvailableTools[lead]
	if !probed {
		return true
	}
	return found
}

func toPatternShell(s contextcap.ShellType) patterns.Shell {
	switch s {
	case contextcap.ShellBash:
		return patterns.ShellBash
	case contextcap.ShellZsh:
		return patterns.ShellZsh
	case contextcap.ShellFish:
		return patterns.ShellFish
	case contextcap.ShellSh:
		return patterns.ShellSh
	case contextcap.ShellPowerShell:
		return patterns.ShellPowerShell
	case contextcap.ShellCmd:
		return patterns.ShellCmd
	default:
		return patterns.ShellUnknown
	}
}

func buildPromptPass1(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You translate a user's natural-language request into a single POSIX shell command.\n")
	fmt.Fprintf(&b, "OS: %s/%s  Shell: %s  Cwd: %s\n", req.ExecContext.OS, req.ExecContext.Arch, req.ExecContext.Shell, req.ExecContext.Cwd)
	fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(availableToolNames(req.ExecContext), ", "))
	fmt.Fprintf(&b, "Request: %s\n", req.Prompt)
	fmt.Fprintf(&b, "Respond with ONLY the shell command, no explanation, no markdown fence.")
	return b.String()
}

func buildPromptPass2(req Request, prevCommand string, prevParsed bool, prevValidation safety.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous answer needs refinement.\n")
	fmt.Fprintf(&b, "Previous command: %s\n", prevCommand)
	if !prevParsed {
		fmt.Fprintf(&b, "That did not parse as a single shell command.\n")
	}
	if len(prevValidation.Matched) > 0 {
		fmt.Fprintf(&b, "Safety concerns found (do not repeat these patterns):\n")
		for _, m := range prevValidation.Matched {
			fmt.Fprintf(&b, "- %s: %s\n", m.Name, m.Reason)
		}
	}
	fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(availableToolNames(req.ExecContext), ", "))
	fmt.Fprintf(&b, "Original request: %s\n", req.Prompt)
	fmt.Fprintf(&b, "Respond with ONLY a refined single shell command, no explanation, no markdown fence.")
	return b.String()
}

func availableToolNames(execCtx contextcap.ExecutionContext) []string {
	names := make([]string, 0, len(execCtx.AvailableTools))
	for tool, ok := range execCtx.AvailableTools {
		if ok {
			names = append(names, tool)
		}
	}
	return names
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package safety

import (
	"github.com/wildcard/shellsage/internal/patterns"
)

// Validator ties the pattern engine, the gate matrix, and the allow-list
// together into the single Validate operation described in §4.E.
type Validator struct {
	engine    *patterns.Engine
	level     Level
	allowList *AllowList
}

// New builds a Validator. engine may be nil, in which case patterns.Default()
// is used. allowList may be nil, in which case no demotion is applied.
func New(level Level, engine *patterns.Engine, allowList *AllowList) *Validator {
	if engine == nil {
		engine = patterns.Default()
	}
	return &Validator{engine: engine, level: level, allowList: allowList}
}

// Validate runs command through the pattern engine for shell, aggregates
// risk, applies the gate policy for the validator's configured Level, and
// (if the gate would otherwise Block) consults the allow-list.
//
// Validation never calls out to a backend or the network — it is a pure
// function of (command, shell, level, catalog, allow-list). If the engine
// itself fails (a parse error), the result fails closed: risk is forced to
// High and the gate to at least ConfirmRequired, per §4.E.
func (v *Validator) Validate(command string, shell patterns.Shell) Result {
	matches, err := v.engine.Match(command, shell)

	risk := patterns.MaxRisk(matches)
	matched := make([]MatchedPattern, 0, len(matches))
	for _, m := range matches {
		matched = append(matched, MatchedPattern{Name: m.PatternID, Reason: m.Reason})
	}

	gate := gateFor(v.level, risk)

	result := Result{
		Risk:    risk,
		Matched: matched,
		Gate:    gate,
	}

	if err != nil {
		// Match already returned a synthetic High-risk match for this case
		// (patterns.ParseError), so risk/gate above already reflect it. We
		// still force the floor explicitly: a future engine change must not
		// silently weaken the fail-closed guarantee.
		result.FailedClosed = true
		if result.Gate < GateConfirmRequired {
			result.Gate = GateConfirmRequired
		}
		return result
	}

	result.Gate = v.allowList.Demote(command, result.Gate)
	result.SuggestedSafer = suggestSafer(command, result.Matched)
	return result
}

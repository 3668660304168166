// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package safety

import (
	"strings"

	"github.com/wildcard/shellsage/internal/patterns"
)

// gateTable implements the matrix from spec.md §4.E exactly.
var gateTable = map[Level]map[patterns.Risk]Gate{
	LevelStrict: {
		patterns.RiskSafe:     GateAllow,
		patterns.RiskModerate: GateConfirmRequired,
		patterns.RiskHigh:     GateBlock,
		patterns.RiskCritical: GateBlock,
	},
	LevelModerate: {
		patterns.RiskSafe:     GateAllow,
		patterns.RiskModerate: GateWarn,
		patterns.RiskHigh:     GateConfirmRequired,
		patterns.RiskCritical: GateBlock,
	},
	LevelPermissive: {
		patterns.RiskSafe:     GateAllow,
		patterns.RiskModerate: GateAllow,
		patterns.RiskHigh:     GateWarn,
		patterns.RiskCritical: GateConfirmRequired,
	},
}

func gateFor(level Level, risk patterns.Risk) Gate {
	return gateTable[level][risk]
}

// AllowList holds exact normalized commands that may be demoted from
// Block to ConfirmRequired, never lower, per §4.E. It is user-configurable
// (config key `safety.allow_list`, a sibling of `safety.custom_patterns`).
// NewAllowList enforces no limit on the number of entries.
type AllowList struct {
	entries map[string]struct{}
}

// NewAllowList builds an AllowList from a slice of exact command strings.
func NewAllowList(commands []string) *AllowList {
	al := &AllowList{entries: make(map[string]struct{}, len(commands))}
	for _, c := range commands {
		al.entries[normalizeForAllowList(c)] = struct{}{}
	}
	return al
}

func normalizeForAllowList(s string) string {
	toks, err := patterns.Tokenize(s)
	if err != nil {
		return s
	}
	return strings.Join(toks, " ")
}

// Demote applies the allow-list: if command is listed and gate is
// currently Block, it is lowered to ConfirmRequired. Any other gate is
// left untouched — the allow-list can never demote below ConfirmRequired.
func (al *AllowList) Demote(command string, gate Gate) Gate {
	if al == nil || gate != GateBlock {
		return gate
	}
	if _, ok := al.entries[normalizeForAllowList(command)]; ok {
		return GateConfirmRequired
	}
	return gate
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package safety

import (
	"fmt"
	"regexp"
)

// rewriteRule maps a matched pattern id to a static, deterministic safer
// rewrite. These are plain string transforms, never AI-generated, per
// §4.E. Only a curated subset of critical/high patterns get a suggestion;
// most do not (there often isn't a safe equivalent, e.g. rm -rf /).
type rewriteRule struct {
	patternID string
	rewrite   func(command string) (string, bool)
}

var rmPathCapture = regexp.MustCompile(`^\s*rm\s+(?:-\w+\s+)*(\S+)\s*$`)

// unsalvageableRmTarget matches a target so broad (root, home, wildcard
// root, a bare core system directory) that there is no narrower rewrite to
// offer — the command needs a human decision, not a rephrasing.
var unsalvageableRmTarget = regexp.MustCompile(`^(/|/\*|~|/(bin|boot|dev|etc|lib|lib64|proc|root|sbin|sys|usr|var)(/.*)?)$`)

var rewriteRules = []rewriteRule{
	{
		patternID: "rm_rf_no_age_filter",
		rewrite: func(command string) (string, bool) {
			m := rmPathCapture.FindStringSubmatch(command)
			if m == nil {
				return "", false
			}
			if unsalvageableRmTarget.MatchString(m[1]) {
				return "", false
			}
			return fmt.Sprintf(`find %s -mtime +7 -delete`, m[1]), true
		},
	},
	{
		patternID: "chmod_world_writable",
		rewrite: func(command string) (string, bool) {
			return "", false // no safe general replacement for a bare chmod 777 call
		},
	},
	{
		patternID: "find_delete",
		rewrite: func(command string) (string, bool) {
			if rewriteRegexFindDelete.MatchString(command) {
				return rewriteRegexFindDelete.ReplaceAllString(command, "${1} -mtime +7${2}"), true
			}
			return "", false
		},
	},
}

var rewriteRegexFindDelete = regexp.MustCompile(`^(find\s+\S+)((?:\s+-\w+(?:\s+\S+)?)*)\s+-delete\s*$`)

// suggestSafer returns a static safer rewrite for the first matched
// pattern that has one, or "" if none of the matches has a known rewrite.
// A missing rewrite (e.g. rm -rf / with no salvageable target) is
// represented as the empty string, which serializes as JSON null per §6.
func suggestSafer(command string, matched []MatchedPattern) string {
	for _, m := range matched {
		for _, rule := range rewriteRules {
			if rule.patternID == m.Name {
				if rewritten, ok := rule.rewrite(command); ok {
					return rewritten
				}
			}
		}
	}
	return ""
}

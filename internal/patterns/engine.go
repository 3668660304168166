// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package patterns

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
	"golang.org/x/text/unicode/norm"
)

// Engine is the process-wide dangerous-pattern matcher. It is compiled
// once, lazily, and is safe for unsynchronized concurrent reads after
// that — matching never mutates engine state.
type Engine struct {
	posix   []*Pattern
	windows []*Pattern
	byID    map[string]*Pattern
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
	defaultEngineErr  error
)

// Default returns the process-wide Engine, compiling the built-in catalog
// on first use. Compilation failure here is fatal by contract (§4.A):
// callers that need to surface the error during startup can use Compile
// directly instead.
func Default() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine, defaultEngineErr = Compile(nil)
		if defaultEngineErr != nil {
			panic(fmt.Sprintf("patterns: fatal catalog compile error: %v", defaultEngineErr))
		}
	})
	return defaultEngine
}

// CompileError is returned when a custom pattern fails to compile.
type CompileError struct {
	Source string
	Cause  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("patterns: failed to compile pattern %q: %v", e.Source, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// Compile builds an Engine from the built-in catalog plus an optional set
// of additional regular expressions (config `safety.custom_patterns`),
// which are always assigned RiskHigh per §6 and appended after the
// built-ins so a built-in match of equal risk still wins precedence.
func Compile(customPatterns []string) (*Engine, error) {
	posix := compilePatterns(defaultCatalog)
	var posixOnly, windowsOnly []*Pattern
	for _, p := range posix {
		if p.Windows {
			windowsOnly = append(windowsOnly, p)
		} else {
			posixOnly = append(posixOnly, p)
		}
	}

	for i, src := range customPatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, &CompileError{Source: src, Cause: err}
		}
		posixOnly = append(posixOnly, &Pattern{
			ID:       fmt.Sprintf("custom_%d", i),
			Category: CategoryCustom,
			Risk:     RiskHigh,
			Reason:   fmt.Sprintf("matches configured custom pattern: %s", src),
			compiled: re,
		})
	}

	byID := make(map[string]*Pattern, len(posixOnly)+len(windowsOnly))
	for _, p := range posixOnly {
		byID[p.ID] = p
	}
	for _, p := range windowsOnly {
		byID[p.ID] = p
	}

	return &Engine{posix: posixOnly, windows: windowsOnly, byID: byID}, nil
}

// normalize collapses whitespace and applies NFKC unicode normalization so
// homoglyph or whitespace-padding bypass attempts can't dodge the regex
// catalog. Matching is otherwise done against this normalized form.
func normalize(command string) string {
	n := norm.NFKC.String(command)
	n = strings.ReplaceAll(n, "\t", " ")
	n = strings.TrimSpace(n)
	for strings.Contains(n, "  ") {
		n = strings.ReplaceAll(n, "  ", " ")
	}
	n = foldCommandNames(n)
	return n
}

// commandNameRegex finds the leading word of the command and of each
// command chained after a separator (;, &, &&, ||, |, newline).
var commandNameRegex = regexp.MustCompile(`(^|[;&|\n]\s*)([A-Za-z][A-Za-z0-9_.+-]*)`)

// foldCommandNames lowercases command names (e.g. SUDO, Rm, CURL ... | BASH)
// so the catalog's command-name anchors match case-insensitively, per §4.A.
// Flags and arguments are left untouched: this only rewrites the token
// immediately at the start of the command or right after a chaining
// separator, never a `-X` flag or a quoted argument.
func foldCommandNames(command string) string {
	return commandNameRegex.ReplaceAllStringFunc(command, strings.ToLower)
}

// ParseError is returned when a command cannot be tokenized (e.g.
// unbalanced quotes). Per §4.A this is not fatal to Match: the caller
// treats it as "could not parse, treat as High" and Match does so itself,
// but ParseError is still exported so callers can detect the fail-closed
// path happened.
type ParseError struct {
	Command string
	Cause   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("patterns: could not parse command: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Match runs command through the catalog appropriate for shell and returns
// every matching pattern, in catalog declaration order. A malformed
// command (unbalanced quotes) fails closed: a single synthetic High-risk
// match is returned along with the ParseError so the caller can log it.
func (e *Engine) Match(command string, shell Shell) ([]Match, error) {
	normalized := normalize(command)
	if normalized == "" {
		return nil, nil
	}

	if _, err := Tokenize(normalized); err != nil {
		return []Match{{
			PatternID: "unparseable_command",
			Category:  CategoryCustom,
			Risk:      RiskHigh,
			Reason:    "command could not be parsed; treated as high risk (fail-closed)",
		}}, &ParseError{Command: command, Cause: err}
	}

	table := e.posix
	if shell.IsWindows() {
		table = e.windows
	}

	var matches []Match
	for _, p := range table {
		if p.compiled.MatchString(normalized) {
			risk, reason := p.Risk, p.Reason
			if p.ID == "find_delete" && findDeleteAgeFilterRegex.MatchString(normalized) {
				risk = RiskModerate
				reason = "find with -delete narrowed by an age filter; still review the match before running"
			}
			matches = append(matches, Match{
				PatternID: p.ID,
				Category:  p.Category,
				Risk:      risk,
				Reason:    reason,
			})
		}
	}
	return matches, nil
}

// findDeleteAgeFilterRegex detects the age filters (-mtime, -mmin, -atime,
// -ctime) that narrow a find -delete to a bounded set of files, the
// distinction the find_delete catalog entry can't express as a single RE2
// pattern (no negative lookahead) between "deletes everything matched" and
// "deletes only files older/newer than N".
var findDeleteAgeFilterRegex = regexp.MustCompile(`-(mtime|mmin|atime|ctime)\b`)

// Pattern looks up a compiled pattern by id, for tests and for surfacing
// category/reason metadata to callers that already have a Match.
func (e *Engine) Pattern(id string) (*Pattern, bool) {
	p, ok := e.byID[id]
	return p, ok
}

// Tokenize splits a command into shell-like tokens, honoring quoting and
// escaping, and reports an error on unbalanced quotes. Used both by
// Match's parseability check and by the allow-list's command normalization.
// Delegates to the same shellwords parser the Refinement loop uses for its
// "single logical command" check, rather than maintaining a second quote
// scanner with its own edge cases.
func Tokenize(command string) ([]string, error) {
	toks, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("unclosed quote in command: %w", err)
	}
	return toks, nil
}

// MaxRisk returns the maximum risk level across a set of matches, or
// RiskSafe if matches is empty, satisfying the invariant in §3:
// "ValidationResult.risk equals the maximum risk among matched patterns;
// empty match ⇒ Safe."
func MaxRisk(matches []Match) Risk {
	max := RiskSafe
	for _, m := range matches {
		if m.Risk > max {
			max = m.Risk
		}
	}
	return max
}

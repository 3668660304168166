// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package refine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCandidate_StripsMarkdownFence(t *testing.T) {
	cmd, ok := parseCandidate("```bash\nls -la\n```")
	assert.True(t, ok)
	assert.Equal(t, "ls -la", cmd)
}

func TestParseCandidate_PlainCommand(t *testing.T) {
	cmd, ok := parseCandidate("  du -sh .  ")
	assert.True(t, ok)
	assert.Equal(t, "du -sh .", cmd)
}

func TestParseCandidate_MultipleLinesFails(t *testing.T) {
	_, ok := parseCandidate("ls -la\nrm -rf /")
	assert.False(t, ok)
}

func TestParseCandidate_EmptyFails(t *testing.T) {
	_, ok := parseCandidate("   ")
	assert.False(t, ok)
}

func TestParseCandidate_UnclosedQuoteFails(t *testing.T) {
	_, ok := parseCandidate(`echo "unterminated`)
	assert.False(t, ok)
}

func TestParseCandidate_OversizedResponseFails(t *testing.T) {
	huge := make([]byte, maxResponseBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, ok := parseCandidate(string(huge))
	assert.False(t, ok)
}

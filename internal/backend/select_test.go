// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_PicksFirstHealthyBackend(t *testing.T) {
	unhealthy := NewMockBackend()
	unhealthy.AvailableResult = false
	healthy := NewMockBackend()

	// Both mocks report KindMock and HealthCache keys by Kind; a zero TTL
	// makes each Get probe its own backend instead of serving the first
	// mock's cached result for the second.
	sel := NewSelector(NewHealthCache(0), unhealthy, healthy)
	gen, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindMock, gen.Kind())
	assert.Same(t, healthy, gen)
}

func TestSelector_AllUnavailableReturnsSelectionError(t *testing.T) {
	a := NewMockBackend()
	a.AvailableResult = false
	b := NewMockBackend()
	b.AvailableResult = false

	sel := NewSelector(NewHealthCache(time.Minute), a, b)
	_, err := sel.Select(context.Background())
	require.Error(t, err)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Len(t, selErr.Attempts, 2)
}

func TestSelector_GenerateWithFallback_FallsThroughOnGenerateError(t *testing.T) {
	failing := NewMockBackend()
	failing.GenerateErr = errors.New("boom")
	succeeding := NewMockBackend()
	succeeding.CandidateResult = Candidate{Command: "ls -la"}

	sel := NewSelector(NewHealthCache(time.Minute), failing, succeeding)
	candidate, err := sel.GenerateWithFallback(context.Background(), "list files", DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "ls -la", candidate.Command)
	assert.Equal(t, 1, failing.Calls)
	assert.Equal(t, 1, succeeding.Calls)
}

func TestSelector_GenerateWithFallback_AllFailReturnsSelectionError(t *testing.T) {
	a := NewMockBackend()
	a.GenerateErr = errors.New("a down")
	b := NewMockBackend()
	b.GenerateErr = errors.New("b down")

	sel := NewSelector(NewHealthCache(time.Minute), a, b)
	_, err := sel.GenerateWithFallback(context.Background(), "x", DefaultParams())
	require.Error(t, err)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Len(t, selErr.Attempts, 2)
}

func TestHealthCache_ServesStaleWithinTTL(t *testing.T) {
	gen := NewMockBackend()
	cache := NewHealthCache(time.Hour)

	first, err := cache.Get(context.Background(), gen)
	require.NoError(t, err)
	assert.True(t, first.Available)

	// Flip AvailableResult; cached value should still be served since TTL
	// hasn't elapsed and Health() isn't called a second time.
	gen.AvailableResult = false
	second, err := cache.Get(context.Background(), gen)
	require.NoError(t, err)
	assert.True(t, second.Available)
}

func TestHealthCache_InvalidateForcesRefresh(t *testing.T) {
	gen := NewMockBackend()
	cache := NewHealthCache(time.Hour)

	_, err := cache.Get(context.Background(), gen)
	require.NoError(t, err)

	gen.AvailableResult = false
	cache.Invalidate(gen.Kind())

	refreshed, err := cache.Get(context.Background(), gen)
	require.NoError(t, err)
	assert.False(t, refreshed.Available)
}

func TestMockBackend_GenerateRespectsDefaultCandidate(t *testing.T) {
	gen := NewMockBackend()
	candidate, err := gen.Generate(context.Background(), "anything", DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, KindMock, candidate.BackendUsed)
	assert.NotEmpty(t, candidate.Command)
}

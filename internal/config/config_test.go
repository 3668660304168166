// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownSafetyLevel(t *testing.T) {
	cfg := Default()
	cfg.General.SafetyLevel = "yolo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general.safety_level")
}

func TestValidate_RejectsUnknownBackendPrimary(t *testing.T) {
	cfg := Default()
	cfg.Backend.Primary = "magic"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.primary")
}

func TestValidate_RejectsCacheSizeOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Cache.MaxSizeGB = 0
	assert.Error(t, cfg.Validate())

	cfg.Cache.MaxSizeGB = 1001
	assert.Error(t, cfg.Validate())

	cfg.Cache.MaxSizeGB = 1
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsMalformedOllamaURL(t *testing.T) {
	cfg := Default()
	cfg.Backend.Primary = "ollama"
	cfg.Backend.Ollama.BaseURL = "://not-a-url"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyCustomPattern(t *testing.T) {
	cfg := Default()
	cfg.Safety.CustomPatterns = []string{"  "}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom_patterns")
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := Default()
	cfg.General.SafetyLevel = "bogus"
	cfg.Backend.Primary = "bogus"
	cfg.Cache.MaxSizeGB = -5
	err := cfg.Validate()
	require.Error(t, err)
	verrs, ok := err.(ValidateErrors)
	require.True(t, ok)
	assert.Len(t, verrs, 3)
}

func TestLoadTOML_OverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[general]
safety_level = "strict"

[backend]
primary = "ollama"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	cfg := Default()
	require.NoError(t, LoadTOML(cfg, path))

	assert.Equal(t, "strict", cfg.General.SafetyLevel)
	assert.Equal(t, "ollama", cfg.Backend.Primary)
	// Unset keys keep their defaults.
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Backend.Ollama.BaseURL)
	assert.Equal(t, 20, cfg.Cache.MaxSizeGB)
}

func TestLoadFromPath_AppliesEnvOverridesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[general]
safety_level = "moderate"
`), 0600))

	t.Setenv("SHELLSAGE_SAFETY_LEVEL", "strict")
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.General.SafetyLevel)
}

func TestLoadFromPath_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[general]
safety_level = "not-a-level"
`), 0600))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	t.Setenv("SHELLSAGE_SAFETY_LEVEL", "permissive")
	t.Setenv("SHELLSAGE_DEFAULT_SHELL", "fish")
	t.Setenv("SHELLSAGE_LOG_LEVEL", "debug")

	cfg.ApplyEnvOverrides()

	assert.Equal(t, "permissive", cfg.General.SafetyLevel)
	assert.Equal(t, "fish", cfg.General.DefaultShell)
	assert.Equal(t, "debug", cfg.General.LogLevel)
}

func TestSaveTOML_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg := Default()
	cfg.General.SafetyLevel = "strict"

	require.NoError(t, SaveTOML(cfg, path))

	loaded := Default()
	require.NoError(t, LoadTOML(loaded, path))
	assert.Equal(t, "strict", loaded.General.SafetyLevel)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGlobal_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestResetGlobalForTesting_ForcesReload(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	first := Global()
	require.NotNil(t, first)
	SetGlobal(nil)
	ResetGlobalForTesting()
	second := Global()
	require.NotNil(t, second)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildcard/shellsage/internal/config"
	"github.com/wildcard/shellsage/internal/core"
)

func ollamaServer(t *testing.T, model, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": model}},
			})
		case "/api/generate":
			json.NewEncoder(w).Encode(map[string]any{"response": response, "done": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_RejectsEmptyPrompt(t *testing.T) {
	_, err := core.Run(context.Background(), core.Request{Prompt: "   "}, config.Default())
	require.Error(t, err)

	var coreErr *core.CoreError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, core.ErrKindInput, coreErr.Kind)
}

func TestRun_GeneratesNewIDWhenRequestIDIsNil(t *testing.T) {
	srv := ollamaServer(t, "test-model", "ls -la")

	cfg := config.Default()
	cfg.Backend.Primary = "ollama"
	cfg.Backend.EnableFallback = false
	cfg.Backend.Ollama.BaseURL = srv.URL
	cfg.Backend.Ollama.ModelName = "test-model"

	cmd, err := core.Run(context.Background(), core.Request{Prompt: "list files"}, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, cmd.ID)
}

func TestRun_SafeCommandSinglePass(t *testing.T) {
	srv := ollamaServer(t, "test-model", "ls -la")

	cfg := config.Default()
	cfg.Backend.Primary = "ollama"
	cfg.Backend.EnableFallback = false
	cfg.Backend.Ollama.BaseURL = srv.URL
	cfg.Backend.Ollama.ModelName = "test-model"

	cmd, err := core.Run(context.Background(), core.Request{Prompt: "list files"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "ls -la", cmd.Command)
	assert.Equal(t, "safe", cmd.RiskLevel)
	assert.Equal(t, "allow", cmd.Gate)
	assert.Equal(t, 1, cmd.Iterations)
	assert.True(t, cmd.IsExecutable())
	assert.Nil(t, cmd.SuggestedSafer)
}

func TestRun_CriticalCommandIsBlockedNotErrored(t *testing.T) {
	srv := ollamaServer(t, "test-model", "rm -rf /")

	cfg := config.Default()
	cfg.Backend.Primary = "ollama"
	cfg.Backend.EnableFallback = false
	cfg.Backend.Ollama.BaseURL = srv.URL
	cfg.Backend.Ollama.ModelName = "test-model"

	cmd, err := core.Run(context.Background(), core.Request{Prompt: "wipe the root directory"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "critical", cmd.RiskLevel)
	assert.Equal(t, "block", cmd.Gate)
	assert.False(t, cmd.IsExecutable())
	require.NotEmpty(t, cmd.MatchedPatterns)
	assert.Equal(t, "rm_rf_root", cmd.MatchedPatterns[0].Name)
	assert.Nil(t, cmd.SuggestedSafer, "no safe rewrite exists for rm -rf /")
}

func TestRun_FallsBackToVLLMWhenOllamaUnreachable(t *testing.T) {
	vllmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/completions":
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]string{{"text": "ls -la"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer vllmSrv.Close()

	cfg := config.Default()
	cfg.Backend.Primary = "ollama"
	cfg.Backend.EnableFallback = true
	cfg.Backend.Ollama.BaseURL = "http://127.0.0.1:1"
	cfg.Backend.VLLM.BaseURL = vllmSrv.URL
	cfg.Backend.VLLM.ModelName = "test-model"

	cmd, err := core.Run(context.Background(), core.Request{Prompt: "list files"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "ls -la", cmd.Command)
}

func TestRun_SurfacesBackendUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Primary = "ollama"
	cfg.Backend.EnableFallback = false
	cfg.Backend.Ollama.BaseURL = "http://127.0.0.1:1"

	_, err := core.Run(context.Background(), core.Request{Prompt: "list files"}, cfg)
	require.Error(t, err)

	var coreErr *core.CoreError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, core.ErrKindBackendTransient, coreErr.Kind)
}

func TestGeneratedCommand_MarshalsTimingsInMilliseconds(t *testing.T) {
	srv := ollamaServer(t, "test-model", "ls -la")

	cfg := config.Default()
	cfg.Backend.Primary = "ollama"
	cfg.Backend.EnableFallback = false
	cfg.Backend.Ollama.BaseURL = srv.URL
	cfg.Backend.Ollama.ModelName = "test-model"

	cmd, err := core.Run(context.Background(), core.Request{Prompt: "list files"}, cfg)
	require.NoError(t, err)

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	timings, ok := decoded["timings_ms"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, timings, "context")
	assert.Contains(t, timings, "generation")
	assert.Contains(t, timings, "validation")
	assert.Contains(t, timings, "total")
	// Stages are rendered as whole milliseconds, not as a raw
	// time.Duration (nanoseconds).
	assert.Equal(t, float64(cmd.Timings.Total.Milliseconds()), timings["total"])
}

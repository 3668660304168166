// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/wildcard/shellsage/internal/offline"
)

// OllamaConfig configures the Ollama-HTTP backend.
type OllamaConfig struct {
	BaseURL      string        // default http://127.0.0.1:11434 (IPv4 literal avoids Windows IPv6 quirks)
	Model        string        // default "qwen2.5-coder:14b"
	Timeout      time.Duration // default 30s
	HealthTimeout time.Duration // default 1s, per §4.D
	RateLimit    rate.Limit    // outbound requests/sec, default 4
}

// DefaultOllamaConfig mirrors internal/ollama.DefaultConfig's defaults,
// narrowed to what this backend needs.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:       "http://127.0.0.1:11434",
		Model:         "qwen2.5-coder:14b",
		Timeout:       30 * time.Second,
		HealthTimeout: 1 * time.Second,
		RateLimit:     4,
	}
}

// OllamaBackend talks to a local Ollama server's /api/generate and
// /api/tags endpoints, trimmed from internal/ollama.Client to the
// one-shot generation and health-check surface this spec needs.
type OllamaBackend struct {
	cfg     OllamaConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewOllamaBackend validates cfg.BaseURL against offline-mode rules before
// returning — an Ollama backend pointed at a non-localhost URL while
// offline mode is enabled is a configuration error, not a runtime one.
func NewOllamaBackend(cfg OllamaConfig) (*OllamaBackend, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaConfig().BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaConfig().Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaConfig().Timeout
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = DefaultOllamaConfig().HealthTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultOllamaConfig().RateLimit
	}
	if err := offline.ValidateURLForOfflineMode(cfg.BaseURL); err != nil {
		return nil, &Error{Kind: ErrKindUnauthorized, Backend: KindOllama, Message: "base URL rejected", Cause: err}
	}
	return &OllamaBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(cfg.RateLimit, 1),
	}, nil
}

func (b *OllamaBackend) Kind() Kind { return KindOllama }

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (b *OllamaBackend) Health(ctx context.Context) (Health, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, b.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return Health{Backend: KindOllama, CheckedAt: start}, &Error{Kind: ErrKindUnknown, Backend: KindOllama, Message: "build health request", Cause: err}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		detail := "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "timed out"
		}
		return Health{Backend: KindOllama, Detail: detail, CheckedAt: start, Latency: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{Backend: KindOllama, Detail: fmt.Sprintf("status %d", resp.StatusCode), CheckedAt: start, Latency: time.Since(start)}, nil
	}

	var tags ollamaTagsResponse
	modelPresent := false
	if err := json.NewDecoder(resp.Body).Decode(&tags); err == nil {
		for _, m := range tags.Models {
			if m.Name == b.cfg.Model {
				modelPresent = true
				break
			}
		}
	}

	return Health{
		Available: modelPresent,
		Backend:   KindOllama,
		Latency:   time.Since(start),
		Detail:    healthDetail(modelPresent, b.cfg.Model),
		CheckedAt: start,
	}, nil
}

func healthDetail(modelPresent bool, model string) string {
	if modelPresent {
		return ""
	}
	return "model " + model + " not pulled"
}

type ollamaGenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (b *OllamaBackend) Generate(ctx context.Context, prompt string, params Params) (Candidate, error) {
	if !params.Deadline.IsZero() && time.Now().After(params.Deadline) {
		return Candidate{}, errDeadlineExceeded(KindOllama)
	}
	if !params.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, params.Deadline)
		defer cancel()
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return Candidate{}, errDeadlineExceeded(KindOllama)
	}

	reqBody := ollamaGenerateRequest{
		Model:  b.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
			Stop:        params.Stop,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Candidate{}, &Error{Kind: ErrKindInvalidResponse, Backend: KindOllama, Message: "marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Candidate{}, &Error{Kind: ErrKindUnknown, Backend: KindOllama, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Candidate{}, errDeadlineExceeded(KindOllama)
		}
		return Candidate{}, &Error{Kind: ErrKindUnreachable, Backend: KindOllama, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Candidate{}, &Error{Kind: ErrKindInvalidResponse, Backend: KindOllama, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Candidate{}, &Error{Kind: ErrKindInvalidResponse, Backend: KindOllama, Message: "decode response", Cause: err}
	}

	return Candidate{
		Command:     result.Response,
		BackendUsed: KindOllama,
		RawText:     result.Response,
	}, nil
}

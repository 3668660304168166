// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/wildcard/shellsage/internal/offline"
)

// VLLMConfig configures the vLLM-HTTP backend, an OpenAI-compatible
// completions server reachable on localhost or LAN.
type VLLMConfig struct {
	BaseURL       string // e.g. http://127.0.0.1:8000 or a LAN vLLM host
	Model         string
	BearerToken   string // optional; set only if the deployment requires auth
	Timeout       time.Duration
	HealthTimeout time.Duration
	RateLimit     rate.Limit
}

func DefaultVLLMConfig() VLLMConfig {
	return VLLMConfig{
		BaseURL:       "http://127.0.0.1:8000",
		Timeout:       30 * time.Second,
		HealthTimeout: 1 * time.Second,
		RateLimit:     4,
	}
}

// VLLMBackend is grounded on internal/cloud.Client's pooled-transport,
// bearer-auth HTTP client shape, retargeted at the OpenAI-compatible
// /v1/completions and /health endpoints and, unlike cloud.Client, without
// requiring TLS, so a bare-HTTP LAN deployment works (the transport's TLS
// settings are left at Go's defaults) — network locality is enforced by
// offline.ValidateURLForOfflineMode instead of by requiring TLS.
type VLLMBackend struct {
	cfg     VLLMConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewVLLMBackend(cfg VLLMConfig) (*VLLMBackend, error) {
	defaults := DefaultVLLMConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = defaults.HealthTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if err := offline.ValidateURLForOfflineMode(cfg.BaseURL); err != nil {
		return nil, &Error{Kind: ErrKindUnauthorized, Backend: KindVLLM, Message: "base URL rejected", Cause: err}
	}
	return &VLLMBackend{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(cfg.RateLimit, 1),
	}, nil
}

func (b *VLLMBackend) Kind() Kind { return KindVLLM }

func (b *VLLMBackend) authorize(req *http.Request) {
	if b.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.BearerToken)
	}
}

func (b *VLLMBackend) Health(ctx context.Context) (Health, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, b.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/health", nil)
	if err != nil {
		return Health{Backend: KindVLLM, CheckedAt: start}, &Error{Kind: ErrKindUnknown, Backend: KindVLLM, Message: "build health request", Cause: err}
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		detail := "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "timed out"
		}
		return Health{Backend: KindVLLM, Detail: detail, CheckedAt: start, Latency: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	return Health{
		Available: resp.StatusCode == http.StatusOK,
		Backend:   KindVLLM,
		Latency:   time.Since(start),
		Detail:    httpDetail(resp.StatusCode),
		CheckedAt: start,
	}, nil
}

func httpDetail(status int) string {
	if status == http.StatusOK {
		return ""
	}
	return fmt.Sprintf("status %d", status)
}

type vllmCompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop,omitempty"`
	Logprobs    int      `json:"logprobs,omitempty"`
}

type vllmCompletionResponse struct {
	Choices []struct {
		Text        string   `json:"text"`
		Logprobs    *struct {
			TokenLogprobs []float64 `json:"token_logprobs"`
		} `json:"logprobs"`
	} `json:"choices"`
}

func (b *VLLMBackend) Generate(ctx context.Context, prompt string, params Params) (Candidate, error) {
	if !params.Deadline.IsZero() && time.Now().After(params.Deadline) {
		return Candidate{}, errDeadlineExceeded(KindVLLM)
	}
	if !params.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, params.Deadline)
		defer cancel()
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return Candidate{}, errDeadlineExceeded(KindVLLM)
	}

	reqBody := vllmCompletionRequest{
		Model:       b.cfg.Model,
		Prompt:      prompt,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
	if params.ConfidenceProbe {
		reqBody.Logprobs = 1
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Candidate{}, &Error{Kind: ErrKindInvalidResponse, Backend: KindVLLM, Message: "marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return Candidate{}, &Error{Kind: ErrKindUnknown, Backend: KindVLLM, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Candidate{}, errDeadlineExceeded(KindVLLM)
		}
		return Candidate{}, &Error{Kind: ErrKindUnreachable, Backend: KindVLLM, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Candidate{}, &Error{Kind: ErrKindUnauthorized, Backend: KindVLLM, Message: "rejected bearer token"}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Candidate{}, &Error{Kind: ErrKindRateLimited, Backend: KindVLLM, Message: "server-side rate limited"}
	}
	if resp.StatusCode != http.StatusOK {
		return Candidate{}, &Error{Kind: ErrKindInvalidResponse, Backend: KindVLLM, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var result vllmCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Candidate{}, &Error{Kind: ErrKindInvalidResponse, Backend: KindVLLM, Message: "decode response", Cause: err}
	}
	if len(result.Choices) == 0 {
		return Candidate{}, &Error{Kind: ErrKindInvalidResponse, Backend: KindVLLM, Message: "no choices returned"}
	}

	choice := result.Choices[0]
	candidate := Candidate{
		Command:     choice.Text,
		BackendUsed: KindVLLM,
		RawText:     choice.Text,
	}
	if params.ConfidenceProbe && choice.Logprobs != nil {
		candidate.Confidence = averageLogprobConfidence(choice.Logprobs.TokenLogprobs)
	}
	return candidate, nil
}

// averageLogprobConfidence converts mean log-probability into a rough
// [0,1] confidence score: exp(mean logprob) approximates mean token
// probability.
func averageLogprobConfidence(logprobs []float64) float64 {
	if len(logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range logprobs {
		sum += lp
	}
	mean := sum / float64(len(logprobs))
	return math.Exp(mean)
}

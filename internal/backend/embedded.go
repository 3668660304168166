// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/wildcard/shellsage/internal/cachestore"
)

// Inferencer is the narrow seam embedded backends call into for actual
// token generation. shellsage does not ship a model runtime; an
// orchestrator-level collaborator supplies a concrete Inferencer wrapping
// whatever local inference library the platform-appropriate build links
// in (e.g. a CGO GGML/llama.cpp binding for GPU/CPU, selected at build
// time — out of scope for this package).
type Inferencer interface {
	Infer(ctx context.Context, modelPath, prompt string, params Params) (string, error)
}

// EmbeddedConfig configures an embedded backend variant.
type EmbeddedConfig struct {
	ModelID string // resolved through the Model Cache
	GPU     bool   // true selects Embedded-GPU, false Embedded-CPU
}

// EmbeddedBackend runs inference against a model pulled through the Model
// Cache (Component C), using whichever Inferencer the build links in. GPU
// vs CPU variant selection happens one layer up, in the Orchestrator,
// grounded on internal/detect's GpuInfo-driven recommendation logic —
// this struct just records which variant it is for Kind()/logging.
type EmbeddedBackend struct {
	cfg    EmbeddedConfig
	cache  *cachestore.Store
	infer  Inferencer
}

func NewEmbeddedBackend(cfg EmbeddedConfig, cache *cachestore.Store, infer Inferencer) *EmbeddedBackend {
	return &EmbeddedBackend{cfg: cfg, cache: cache, infer: infer}
}

func (b *EmbeddedBackend) Kind() Kind {
	if b.cfg.GPU {
		return KindEmbeddedGPU
	}
	return KindEmbeddedCPU
}

// Health reports the backend available only when the configured model is
// already cached — it never performs a real download, since that would
// violate the "cheap enough to call before every generation attempt"
// constraint. It does not check whether an uncached model could be
// fetched: an uncached model reports unavailable, so a Selector skips
// this backend.
func (b *EmbeddedBackend) Health(ctx context.Context) (Health, error) {
	start := time.Now()
	_, ok, err := b.cache.Get(b.cfg.ModelID)
	if err != nil {
		return Health{Backend: b.Kind(), CheckedAt: start, Latency: time.Since(start)},
			&Error{Kind: ErrKindUnknown, Backend: b.Kind(), Message: "cache lookup failed", Cause: err}
	}
	detail := ""
	if !ok {
		detail = "model not cached"
	}
	return Health{
		Available: ok,
		Backend:   b.Kind(),
		Latency:   time.Since(start),
		Detail:    detail,
		CheckedAt: start,
	}, nil
}

func (b *EmbeddedBackend) Generate(ctx context.Context, prompt string, params Params) (Candidate, error) {
	if !params.Deadline.IsZero() && time.Now().After(params.Deadline) {
		return Candidate{}, errDeadlineExceeded(b.Kind())
	}
	if !params.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, params.Deadline)
		defer cancel()
	}

	entry, err := b.cache.Fetch(ctx, b.cfg.ModelID)
	if err != nil {
		return Candidate{}, &Error{Kind: ErrKindUnreachable, Backend: b.Kind(), Message: "model fetch failed", Cause: err}
	}

	text, err := b.infer.Infer(ctx, entry.Path, prompt, params)
	if err != nil {
		return Candidate{}, &Error{Kind: ErrKindUnknown, Backend: b.Kind(), Message: fmt.Sprintf("inference on %s failed", entry.ModelID), Cause: err}
	}

	return Candidate{
		Command:     text,
		BackendUsed: b.Kind(),
		RawText:     text,
	}, nil
}

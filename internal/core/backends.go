// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wildcard/shellsage/internal/backend"
	"github.com/wildcard/shellsage/internal/cachestore"
	"github.com/wildcard/shellsage/internal/config"
	"github.com/wildcard/shellsage/internal/detect"
)

// configSource adapts config.Config's model_sources table to
// cachestore.Source.
type configSource struct {
	sources map[string]config.ModelSource
}

func (s configSource) Resolve(modelID string) (url, expectedHash string, err error) {
	src, ok := s.sources[modelID]
	if !ok {
		return "", "", fmt.Errorf("cachestore: no configured source for model %q", modelID)
	}
	return src.URL, src.Hash, nil
}

// unavailableInferencer is the default backend.Inferencer: shellsage does
// not ship a model runtime in this build, so Health() on the embedded
// backend can still report cache state, but Generate() fails cleanly and
// lets the Selector fall through to the next configured backend.
type unavailableInferencer struct{}

func (unavailableInferencer) Infer(ctx context.Context, modelPath, prompt string, params backend.Params) (string, error) {
	return "", errors.New("core: no embedded inference runtime linked into this build")
}

func embeddedCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("core: resolve cache dir: %w", err)
	}
	return filepath.Join(base, "shellsage", "models"), nil
}

func newEmbeddedGenerator(cfg *config.Config) (backend.Generator, error) {
	dir, err := embeddedCacheDir()
	if err != nil {
		return nil, err
	}
	store, err := cachestore.Open(dir, configSource{sources: cfg.Backend.Embedded.ModelSources})
	if err != nil {
		return nil, fmt.Errorf("core: open model cache: %w", err)
	}

	gpu := false
	if info, err := detect.DetectGPUCached(); err == nil && info != nil {
		gpu = info.Type != detect.GpuTypeCPU
	}

	return backend.NewEmbeddedBackend(backend.EmbeddedConfig{
		ModelID: cfg.Backend.Embedded.ModelID,
		GPU:     gpu,
	}, store, unavailableInferencer{}), nil
}

func newOllamaGenerator(cfg *config.Config) (backend.Generator, error) {
	return backend.NewOllamaBackend(backend.OllamaConfig{
		BaseURL: cfg.Backend.Ollama.BaseURL,
		Model:   cfg.Backend.Ollama.ModelName,
	})
}

func newVLLMGenerator(cfg *config.Config) (backend.Generator, error) {
	return backend.NewVLLMBackend(backend.VLLMConfig{
		BaseURL:     cfg.Backend.VLLM.BaseURL,
		Model:       cfg.Backend.VLLM.ModelName,
		BearerToken: cfg.Backend.VLLM.APIKey,
	})
}

// buildBackendChain assembles the ordered Generator chain per §4.D's
// selection policy: the configured primary first, then (if
// enable_fallback) the remaining configured backends, with Embedded
// always last so it is the guaranteed final fallback.
func buildBackendChain(cfg *config.Config) ([]backend.Generator, error) {
	primary := strings.ToLower(cfg.Backend.Primary)

	var chain []backend.Generator

	primaryGen, err := newGeneratorFor(primary, cfg)
	if err != nil {
		return nil, fmt.Errorf("core: construct primary backend %q: %w", primary, err)
	}
	chain = append(chain, primaryGen)

	if !cfg.Backend.EnableFallback || primary == "embedded" {
		return chain, nil
	}

	for _, kind := range []string{"ollama", "vllm"} {
		if kind == primary {
			continue
		}
		if gen, err := newGeneratorFor(kind, cfg); err == nil {
			chain = append(chain, gen)
		}
	}
	if embeddedGen, err := newEmbeddedGenerator(cfg); err == nil {
		chain = append(chain, embeddedGen)
	}

	return chain, nil
}

func newGeneratorFor(kind string, cfg *config.Config) (backend.Generator, error) {
	switch kind {
	case "embedded":
		return newEmbeddedGenerator(cfg)
	case "ollama":
		return newOllamaGenerator(cfg)
	case "vllm":
		return newVLLMGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

// selectorAdapter satisfies refine.Backend by delegating to a
// backend.Selector's fallback-aware generation — the Selector's method
// is named GenerateWithFallback, not Generate, since it does strictly
// more than a single Generator (it owns retry-to-next-backend policy).
type selectorAdapter struct {
	sel *backend.Selector
}

func (a *selectorAdapter) Generate(ctx context.Context, prompt string, params backend.Params) (backend.Candidate, error) {
	return a.sel.GenerateWithFallback(ctx, prompt, params)
}

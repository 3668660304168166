// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements Component D, the Backend Abstraction: a
// uniform Generator interface over Embedded-GPU, Embedded-CPU,
// Ollama-HTTP, vLLM-HTTP, and Mock variants, with health probing and
// orchestrator-facing fallback selection.
package backend

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline gates a backend's configured base URL against the
// "don't phone home" guarantee: when offline mode is set, only
// localhost/loopback HTTP(S) endpoints are accepted, so an Ollama or
// vLLM backend can never be pointed at a remote host by mistake.
//
//	if err := offline.ValidateURLForOfflineMode(baseURL); err != nil {
//		return nil, err // URL rejected
//	}
package offline

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// shellsage.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: top-level configuration (general, backend, safety, cache)
//   - BackendConfig: primary backend selection and per-backend endpoints
//   - SafetyConfig: validator enablement and custom pattern list
//   - CacheConfig: model cache size budget
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - SHELLSAGE_CONFIG_PATH, if set
//   - ~/.shellsage/config.toml
//   - ~/.shellsage/config.json
//   - Built-in defaults
//
// Environment variables SHELLSAGE_SAFETY_LEVEL, SHELLSAGE_DEFAULT_SHELL,
// and SHELLSAGE_LOG_LEVEL override whatever the file (or defaults) set.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	level, _ := safety.ParseLevel(cfg.General.SafetyLevel)
package config

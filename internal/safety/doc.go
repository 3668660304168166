// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package safety implements Component E, the Safety Validator: it runs a
// command through the pattern engine, aggregates risk, and applies the
// gate policy table for the configured safety level. Validation is a pure
// function of its inputs and never consults the LLM.
package safety

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package patterns implements the pre-compiled dangerous-command catalog
// and matcher described as Component A: a process-wide, immutable-after-
// init set of regular expressions grouped by category and risk tier, with
// a parallel smaller catalog for Windows shells (cmd, PowerShell).
package patterns

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package contextcap implements Component B, Context Capture: gathers the
// OS/shell/cwd/environment/PATH snapshot the refinement loop's prompt is
// built from. Capture is read-only and local; it never shells out to
// mutate anything.
package contextcap

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package core wires the pattern engine, context capture, model cache,
// backend abstraction, safety validator, and refinement loop into the
// single entrypoint a CLI or RPC surface calls.
//
//	cmd, err := core.Run(ctx, core.Request{Prompt: "list files"}, config.Default())
//	if err != nil {
//		var coreErr *core.CoreError
//		if errors.As(err, &coreErr) {
//			fmt.Fprintln(os.Stderr, coreErr.Message)
//		}
//	}
package core

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect probes the host for an accelerator (NVIDIA, AMD, Apple
// Silicon, Intel Arc) so the Core Orchestrator can choose between an
// Embedded-GPU and Embedded-CPU backend variant.
//
//	info, err := detect.DetectGPUCached()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if info.Type != detect.GpuTypeCPU {
//		fmt.Printf("%s: %s\n", info.Type, info)
//	}
package detect

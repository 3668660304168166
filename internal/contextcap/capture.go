// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package contextcap

import (
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

// probedTools is the fixed allow-listed set of tools whose presence on
// PATH is recorded (spec §4.B).
var probedTools = []string{
	"find", "sed", "awk", "grep", "rg", "ps", "ss", "lsof", "stat",
	"docker", "git", "kubectl",
}

// sensitiveEnvKey matches environment variable names that must never be
// included in a captured context, since it is handed to an external
// backend as part of a prompt.
var sensitiveEnvKey = regexp.MustCompile(`(?i)(TOKEN|SECRET|KEY|PASSWORD)|^AWS_|^SSH_AUTH_SOCK$`)

// toolProbeCache mirrors detect.DetectGPUCached's shape: a single
// process-wide, mutex-guarded, 5-minute-TTL cache, since the set of tools
// on PATH essentially never changes within one shellsage invocation chain.
var (
	toolProbeCacheMu       sync.Mutex
	toolProbeCache         map[string]bool
	toolProbeCacheTime     time.Time
	toolProbeCacheDuration = 5 * time.Minute
)

func probeTools() map[string]bool {
	toolProbeCacheMu.Lock()
	defer toolProbeCacheMu.Unlock()

	if toolProbeCache != nil && time.Since(toolProbeCacheTime) < toolProbeCacheDuration {
		return toolProbeCache
	}

	found := make(map[string]bool, len(probedTools))
	for _, tool := range probedTools {
		_, err := exec.LookPath(tool)
		found[tool] = err == nil
	}

	toolProbeCache = found
	toolProbeCacheTime = time.Now()
	return found
}

// ClearToolProbeCache forces the next Capture to re-probe PATH. Exposed
// for tests and for a future "tool was just installed" refresh hook.
func ClearToolProbeCache() {
	toolProbeCacheMu.Lock()
	defer toolProbeCacheMu.Unlock()
	toolProbeCache = nil
	toolProbeCacheTime = time.Time{}
}

func resolveShell(override ShellType) ShellType {
	if override != ShellUnknown {
		return override
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			lower := strings.ToLower(comspec)
			if strings.Contains(lower, "powershell") || strings.Contains(lower, "pwsh") {
				return ShellPowerShell
			}
		}
		return ShellCmd
	}
	shellPath := os.Getenv("SHELL")
	switch {
	case strings.Contains(shellPath, "zsh"):
		return ShellZsh
	case strings.Contains(shellPath, "fish"):
		return ShellFish
	case strings.Contains(shellPath, "bash"):
		return ShellBash
	case shellPath != "":
		return ShellSh
	default:
		return ShellBash
	}
}

func filteredEnv() map[string]string {
	raw := os.Environ()
	env := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if sensitiveEnvKey.MatchString(key) {
			continue
		}
		env[key] = value
	}
	return env
}

// Capture assembles an ExecutionContext for the current process. It must
// complete in well under 50ms for a typical (≤100-variable) environment;
// the only work that scales with environment size is filteredEnv, which
// is a single linear pass.
func Capture(overrides Overrides) ExecutionContext {
	return ExecutionContext{
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		Shell:          resolveShell(overrides.Shell),
		Cwd:            cwd(),
		Env:            filteredEnv(),
		AvailableTools: probeTools(),
	}
}

func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return dir
}

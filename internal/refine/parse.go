// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package refine

import (
	"encoding/json"
	"strings"

	"github.com/mattn/go-shellwords"
)

// maxResponseBytes guards against a misbehaving backend returning an
// unbounded response, mirroring internal/plan.Generator.parsePlanResponse's
// size check.
const maxResponseBytes = 1 << 20 // 1MB

// stripFences removes a leading/trailing markdown code fence, following
// internal/plan.Generator.parsePlanResponse's TrimPrefix/TrimSuffix
// sequence but tolerant of any fence language tag (```bash, ```sh, ...).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl != -1 && nl < 20 {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// envelope is the optional JSON response shape §4.D allows a backend to
// use instead of a bare fenced command ("a machine-parseable envelope
// (fenced block or JSON)").
type envelope struct {
	Command      string   `json:"command"`
	Explanation  string   `json:"explanation,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// parseCandidate extracts a single logical shell command from a raw
// backend response. A JSON envelope's "command" field is tried first;
// otherwise the response is treated as a bare (optionally fenced)
// command line. It returns ok=false if the response is empty, too
// large, spans more than one non-empty line, or fails to tokenize.
func parseCandidate(raw string) (command string, ok bool) {
	if len(raw) > maxResponseBytes {
		return "", false
	}
	cleaned := stripFences(raw)
	if cleaned == "" {
		return "", false
	}

	if env, isEnvelope := tryParseEnvelope(cleaned); isEnvelope {
		cleaned = env.Command
	}

	lines := nonEmptyLines(cleaned)
	if len(lines) != 1 {
		return "", false
	}
	command = lines[0]

	if _, err := shellwords.Parse(command); err != nil {
		return "", false
	}
	return command, true
}

// tryParseEnvelope reports whether cleaned unmarshals into a JSON
// envelope with a non-empty command field. A plain fenced-command
// response (the common case) simply fails to unmarshal.
func tryParseEnvelope(cleaned string) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(cleaned), &env); err != nil {
		return envelope{}, false
	}
	if env.Command == "" {
		return envelope{}, false
	}
	return env, true
}

// parseEnvelope best-effort extracts explanation/alternatives from a JSON
// envelope response. A plain fenced-command response (the common case)
// simply fails to unmarshal and both return values are zero.
func parseEnvelope(raw string) (explanation string, alternatives []string) {
	env, ok := tryParseEnvelope(stripFences(raw))
	if !ok {
		return "", nil
	}
	return env.Explanation, env.Alternatives
}

func nonEmptyLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

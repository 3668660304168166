// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"time"
)

// MockBackend is a first-class backend variant for tests (§4.D): it
// returns a scripted Candidate or error without touching the network.
type MockBackend struct {
	AvailableResult bool
	CandidateResult Candidate
	GenerateErr     error
	HealthErr       error
	Calls           int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{AvailableResult: true}
}

func (m *MockBackend) Kind() Kind { return KindMock }

func (m *MockBackend) Health(ctx context.Context) (Health, error) {
	if m.HealthErr != nil {
		return Health{Backend: KindMock, CheckedAt: time.Now()}, m.HealthErr
	}
	return Health{Available: m.AvailableResult, Backend: KindMock, CheckedAt: time.Now()}, nil
}

func (m *MockBackend) Generate(ctx context.Context, prompt string, params Params) (Candidate, error) {
	m.Calls++
	if m.GenerateErr != nil {
		return Candidate{}, m.GenerateErr
	}
	if m.CandidateResult.Command == "" {
		return Candidate{Command: "echo mock", BackendUsed: KindMock, Confidence: 1}, nil
	}
	result := m.CandidateResult
	result.BackendUsed = KindMock
	return result, nil
}

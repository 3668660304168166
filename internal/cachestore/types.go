// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cachestore

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Entry is the on-disk record for one cached model blob (spec CachedModel).
type Entry struct {
	ModelID      string    `json:"model_id"`
	SourceURL    string    `json:"source_url"`
	Hash         string    `json:"hash"` // sha256, hex-encoded
	Size         int64     `json:"size"`
	Path         string    `json:"path"` // relative to the cache root, i.e. blobs/<hash>
	LastAccess   time.Time `json:"last_access"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// index is the on-disk index.json shape: model id -> Entry.
type index struct {
	Entries map[string]Entry `json:"entries"`
}

// Source resolves a model id to a download URL and expected hash. The
// orchestrator supplies an implementation backed by config (§6
// `backend.embedded.model_sources`); cachestore has no opinion on where
// models come from.
type Source interface {
	Resolve(modelID string) (url, expectedHash string, err error)
}

// Kind classifies a cache miss/failure for orchestrator-level error mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissing
	KindOfflineAndMissing
	KindIntegrityFailure
	KindNetwork
)

// Error is cachestore's typed error, carrying a Kind for errors.As-based
// classification at the orchestrator boundary (§7).
type Error struct {
	Kind    Kind
	ModelID string
	Cause   error
}

func (e *Error) Error() string {
	msg := "cachestore: " + e.ModelID + ": "
	switch e.Kind {
	case KindMissing:
		msg += "not in cache"
	case KindOfflineAndMissing:
		msg += "offline and not in cache"
	case KindIntegrityFailure:
		msg += "integrity check failed"
	case KindNetwork:
		msg += "download failed"
	default:
		msg += "cache error"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Stats summarizes the cache for status reporting; String renders it with
// humanize-formatted byte sizes.
type Stats struct {
	EntryCount  int
	TotalBytes  int64
	QuarantineN int
}

// String renders a one-line human-readable summary, e.g. for a CLI status
// collaborator or a debug-level log line.
func (s Stats) String() string {
	return fmt.Sprintf("%d model(s), %s cached, %d quarantined",
		s.EntryCount, humanize.Bytes(uint64(s.TotalBytes)), s.QuarantineN)
}

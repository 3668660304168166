// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// HealthCache holds the most recent Health probe per backend Kind behind
// an atomic pointer, so a reader hitting a warm cache never blocks on a
// concurrent refresh of a different backend — the same freshness-window
// idea as internal/detect's mutex-guarded GPU cache, but per-Kind. Every
// Get briefly takes a small mutex to look up (or create) the Kind's slot
// in the map; that mutex is never held while a probe runs, and the
// immutable Health snapshot itself is read and replaced atomically.
type HealthCache struct {
	ttl       time.Duration
	slotsMu   sync.Mutex
	entries   map[Kind]*atomic.Pointer[cachedHealth]
}

type cachedHealth struct {
	health   Health
	cachedAt time.Time
}

// NewHealthCache builds a cache with the given freshness window.
func NewHealthCache(ttl time.Duration) *HealthCache {
	return &HealthCache{
		ttl:     ttl,
		entries: make(map[Kind]*atomic.Pointer[cachedHealth]),
	}
}

func (c *HealthCache) slot(k Kind) *atomic.Pointer[cachedHealth] {
	c.slotsMu.Lock()
	defer c.slotsMu.Unlock()
	if p, ok := c.entries[k]; ok {
		return p
	}
	p := &atomic.Pointer[cachedHealth]{}
	c.entries[k] = p
	return p
}

// Get probes gen.Health if the cached value for its Kind is stale or
// absent, storing the fresh result before returning it.
func (c *HealthCache) Get(ctx context.Context, gen Generator) (Health, error) {
	slot := c.slot(gen.Kind())
	if cached := slot.Load(); cached != nil && time.Since(cached.cachedAt) < c.ttl {
		return cached.health, nil
	}

	health, err := gen.Health(ctx)
	if err != nil {
		return health, err
	}
	slot.Store(&cachedHealth{health: health, cachedAt: time.Now()})
	return health, nil
}

// Invalidate forces the next Get for k to re-probe.
func (c *HealthCache) Invalidate(k Kind) {
	if p, ok := c.entries[k]; ok {
		p.Store(nil)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildcard/shellsage/internal/util"
)

type staticSource struct {
	url  string
	hash string
	err  error
}

func (s staticSource) Resolve(modelID string) (string, string, error) {
	return s.url, s.hash, s.err
}

func hashOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func TestFetch_DownloadsVerifiesAndCaches(t *testing.T) {
	body := []byte("pretend-model-weights")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := Open(dir, staticSource{url: srv.URL, hash: hashOf(body)})
	require.NoError(t, err)
	defer store.Close()

	entry, err := store.Fetch(context.Background(), "tiny-model")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), entry.Size)
	assert.Equal(t, hashOf(body), entry.Hash)

	got, ok, err := store.Get("tiny-model")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Hash, got.Hash)
}

func TestFetch_IntegrityFailureQuarantines(t *testing.T) {
	body := []byte("corrupted-on-the-wire")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := Open(dir, staticSource{url: srv.URL, hash: "0000000000000000000000000000000000000000000000000000000000000000"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Fetch(context.Background(), "bad-model")
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindOfflineAndMissing, cerr.Kind)

	stats := store.Stats()
	assert.Equal(t, 1, stats.QuarantineN)
	assert.Equal(t, 0, stats.EntryCount)
}

func TestFetch_NetworkFailureFallsBackToCachedCopy(t *testing.T) {
	body := []byte("already-cached")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))

	dir := t.TempDir()
	store, err := Open(dir, staticSource{url: srv.URL, hash: hashOf(body)})
	require.NoError(t, err)
	defer store.Close()

	first, err := store.Fetch(context.Background(), "m")
	require.NoError(t, err)

	srv.Close() // simulate the source becoming unreachable

	second, err := store.Fetch(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
}

func TestFetch_MissingWithNoSourceReturnsMissingKind(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Fetch(context.Background(), "anything")
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindMissing, cerr.Kind)
}

func TestFetch_ConcurrentCallsCoalesceOntoOneDownload(t *testing.T) {
	body := []byte("coalesce-me")
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := Open(dir, staticSource{url: srv.URL, hash: hashOf(body)})
	require.NoError(t, err)
	defer store.Close()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Fetch(context.Background(), "shared-model")
		}(i)
	}
	wg.Wait()

	for _, e := range errs {
		require.NoError(t, e)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits, "concurrent fetches of the same model id should coalesce onto one download")
}

func TestEvict_RemovesLeastRecentlyUsedFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	add := func(id string, size int64, lastAccess int64) {
		hash := hashOf([]byte(id))
		require.NoError(t, writeTestBlob(dir, hash, size))
		store.mu.Lock()
		store.idx.Entries[id] = Entry{
			ModelID:    id,
			Hash:       hash,
			Size:       size,
			LastAccess: timeAt(lastAccess),
		}
		store.mu.Unlock()
	}
	add("old", 100, 1)
	add("newer", 100, 2)
	require.NoError(t, store.persistIndex())

	require.NoError(t, store.Evict(100))

	_, ok, _ := store.Get("old")
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok2, _ := store.Get("newer")
	assert.True(t, ok2)
}

func TestOpen_PicksUpSiblingProcessIndexRewriteWithoutPolling(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	if store.watcher == nil {
		t.Skip("fsnotify watcher unavailable in this sandbox")
	}

	hash := hashOf([]byte("sibling-written"))
	require.NoError(t, writeTestBlob(dir, hash, 42))

	rewritten := index{Entries: map[string]Entry{
		"sibling-model": {
			ModelID:    "sibling-model",
			Hash:       hash,
			Size:       42,
			LastAccess: timeAt(1),
		},
	}}
	data, err := json.MarshalIndent(rewritten, "", "  ")
	require.NoError(t, err)
	require.NoError(t, util.AtomicWriteFile(store.indexPath(), data, indexFilePerm))

	require.Eventually(t, func() bool {
		_, ok, _ := store.Get("sibling-model")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "store should observe the sibling's index rewrite via fsnotify")
}

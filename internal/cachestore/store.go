// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/wildcard/shellsage/internal/util"
)

const (
	indexFileName  = "index.json"
	blobsDirName   = "blobs"
	quarantineName = ".corrupt"
	stagingDirName = ".tmp"
	indexFilePerm  = 0o644
	blobFilePerm   = 0o644
	cacheDirPerm   = 0o755
)

// Store is the content-addressed on-disk model cache (§4.C). The zero
// value is not usable; construct with Open.
type Store struct {
	root   string
	source Source

	mu    sync.Mutex // guards idx and its persistence
	idx   index
	locks sync.Map // model id -> *sync.RWMutex, per-entry

	group singleflight.Group // coalesces concurrent fetch() for one model id

	watcher *fsnotify.Watcher
}

// Open constructs a Store rooted at dir (typically
// filepath.Join(os.UserCacheDir(), "shellsage", "models")), creating the
// directory layout if absent, loading the index, and cleaning up any
// staging leftovers from a previous process that never completed a
// download. source resolves model ids to URLs; it may be nil if the
// caller only ever reads from an already-populated cache.
func Open(dir string, source Source) (*Store, error) {
	for _, sub := range []string{"", blobsDirName, quarantineName, stagingDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), cacheDirPerm); err != nil {
			return nil, fmt.Errorf("cachestore: create %s: %w", sub, err)
		}
	}

	s := &Store{root: dir, source: source}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	if err := s.cleanStaging(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// Best-effort: a process run in a restricted sandbox may not be
		// able to create an inotify instance. Cache correctness does not
		// depend on the watcher; it only lets us notice a sibling
		// process's eviction/quarantine without a poll loop.
		if werr := watcher.Add(dir); werr == nil {
			s.watcher = watcher
			go s.watchIndex()
		} else {
			watcher.Close()
		}
	}

	return s, nil
}

// watchIndex reloads the in-memory index whenever a sibling process
// rewrites index.json on disk (eviction, a new download, quarantine), so
// this process picks up the change without polling. It exits once the
// watcher's channels are closed by Close.
func (s *Store) watchIndex() {
	indexPath := s.indexPath()
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != indexPath {
				continue
			}
			s.mu.Lock()
			_ = s.loadIndex()
			s.mu.Unlock()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close releases the directory watcher, if one was established.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) indexPath() string      { return filepath.Join(s.root, indexFileName) }
func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.root, blobsDirName, hash)
}
func (s *Store) quarantinePath(hash string) string {
	return filepath.Join(s.root, quarantineName, hash)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		s.idx = index{Entries: map[string]Entry{}}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cachestore: read index: %w", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("cachestore: parse index: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = map[string]Entry{}
	}
	s.idx = idx
	return nil
}

// persistIndex must be called with s.mu held.
func (s *Store) persistIndex() error {
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("cachestore: marshal index: %w", err)
	}
	return util.AtomicWriteFile(s.indexPath(), data, indexFilePerm)
}

func (s *Store) cleanStaging() error {
	dir := filepath.Join(s.root, stagingDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
	return nil
}

func (s *Store) entryLock(modelID string) *sync.RWMutex {
	l, _ := s.locks.LoadOrStore(modelID, &sync.RWMutex{})
	return l.(*sync.RWMutex)
}

// Get performs a constant-time lookup in the on-disk index and verifies
// the recorded size against the blob still on disk. A size mismatch is
// treated as a miss rather than a hard error — the caller should fall
// through to Fetch, which downloads the model again. The mismatched blob
// is not moved to .corrupt/; a re-download of the same content replaces it.
func (s *Store) Get(modelID string) (Entry, bool, error) {
	lock := s.entryLock(modelID)
	lock.RLock()
	defer lock.RUnlock()

	s.mu.Lock()
	entry, ok := s.idx.Entries[modelID]
	s.mu.Unlock()
	if !ok {
		return Entry{}, false, nil
	}

	info, err := os.Stat(s.blobPath(entry.Hash))
	if err != nil {
		return Entry{}, false, nil
	}
	if info.Size() != entry.Size {
		return Entry{}, false, nil
	}

	s.touch(modelID)
	return entry, true, nil
}

func (s *Store) touch(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.idx.Entries[modelID]
	if !ok {
		return
	}
	e.LastAccess = nowFunc()
	s.idx.Entries[modelID] = e
	_ = s.persistIndex()
}

// Fetch downloads modelID if not already cached (or re-downloads if the
// cached copy failed its integrity check), coalescing concurrent callers
// for the same model id onto a single in-flight download via singleflight.
// On network failure it falls back to an existing cached copy if one is
// still valid; if none exists, it fails with a KindOfflineAndMissing error.
func (s *Store) Fetch(ctx context.Context, modelID string) (Entry, error) {
	v, err, _ := s.group.Do(modelID, func() (interface{}, error) {
		return s.fetchOnce(ctx, modelID)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (s *Store) fetchOnce(ctx context.Context, modelID string) (Entry, error) {
	if entry, ok, err := s.Get(modelID); err == nil && ok {
		return entry, nil
	}

	if s.source == nil {
		return Entry{}, &Error{Kind: KindMissing, ModelID: modelID}
	}

	url, expectedHash, err := s.source.Resolve(modelID)
	if err != nil {
		return Entry{}, &Error{Kind: KindMissing, ModelID: modelID, Cause: err}
	}

	entry, downloadErr := s.download(ctx, modelID, url, expectedHash)
	if downloadErr == nil {
		return entry, nil
	}

	// Network failure: fall back to a still-valid cached copy, if any.
	if cached, ok, _ := s.Get(modelID); ok {
		return cached, nil
	}
	return Entry{}, &Error{Kind: KindOfflineAndMissing, ModelID: modelID, Cause: downloadErr}
}

func (s *Store) download(ctx context.Context, modelID, url, expectedHash string) (Entry, error) {
	lock := s.entryLock(modelID)
	lock.Lock()
	defer lock.Unlock()

	stagingPath := filepath.Join(s.root, stagingDirName, modelID+".part")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID,
			Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if err := os.MkdirAll(filepath.Dir(stagingPath), cacheDirPerm); err != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}
	f, err := os.Create(stagingPath)
	if err != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(stagingPath)
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}
	if closeErr != nil {
		os.Remove(stagingPath)
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: closeErr}
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	if expectedHash != "" && hash != expectedHash {
		s.quarantine(stagingPath, hash)
		return Entry{}, &Error{Kind: KindIntegrityFailure, ModelID: modelID,
			Cause: fmt.Errorf("hash mismatch: got %s want %s", hash, expectedHash)}
	}

	// The per-entry writer lock is taken only after the transfer, so no
	// lock is held across the network call.
	lock := s.entryLock(modelID)
	lock.Lock()
	defer lock.Unlock()

	blobDest := s.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(blobDest), cacheDirPerm); err != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}
	if err := os.Chmod(stagingPath, blobFilePerm); err != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}
	if err := os.Rename(stagingPath, blobDest); err != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: err}
	}

	entry := Entry{
		ModelID:      modelID,
		SourceURL:    url,
		Hash:         hash,
		Size:         size,
		Path:         filepath.Join(blobsDirName, hash),
		LastAccess:   nowFunc(),
		DownloadedAt: nowFunc(),
	}

	s.mu.Lock()
	s.idx.Entries[modelID] = entry
	persistErr := s.persistIndex()
	s.mu.Unlock()
	if persistErr != nil {
		return Entry{}, &Error{Kind: KindNetwork, ModelID: modelID, Cause: persistErr}
	}

	return entry, nil
}

// quarantine moves a blob that failed an integrity check into .corrupt/
// rather than silently dropping it, so it's available for postmortem.
func (s *Store) quarantine(from, hash string) {
	_ = os.Rename(from, s.quarantinePath(hash))
}

// Evict LRU-evicts complete entries until the cache's on-disk footprint
// is at or below targetSize bytes.
func (s *Store) Evict(targetSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		id    string
		entry Entry
	}
	all := make([]scored, 0, len(s.idx.Entries))
	var total int64
	for id, e := range s.idx.Entries {
		all = append(all, scored{id, e})
		total += e.Size
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].entry.LastAccess.Before(all[j].entry.LastAccess)
	})

	for _, sc := range all {
		if total <= targetSize {
			break
		}
		lock := s.entryLock(sc.id)
		lock.Lock()
		if err := os.Remove(s.blobPath(sc.entry.Hash)); err != nil && !os.IsNotExist(err) {
			lock.Unlock()
			continue
		}
		delete(s.idx.Entries, sc.id)
		total -= sc.entry.Size
		lock.Unlock()
	}

	return s.persistIndex()
}

// Stats summarizes the cache's current footprint for status reporting.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{EntryCount: len(s.idx.Entries)}
	for _, e := range s.idx.Entries {
		stats.TotalBytes += e.Size
	}
	if entries, err := os.ReadDir(filepath.Join(s.root, quarantineName)); err == nil {
		stats.QuarantineN = len(entries)
	}
	return stats
}

// nowFunc is a seam for deterministic tests; production code always uses
// the wall clock.
var nowFunc = defaultNow

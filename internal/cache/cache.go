// Package cache implements the per-directory JSON metadata cache
// (.mediabox_cache.json) keyed by path-independent fingerprint.
package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/wildardoc/mediabox/internal/fingerprint"
	"github.com/wildardoc/mediabox/internal/logger"
	"github.com/wildardoc/mediabox/internal/mediatypes"
)

// FileName is the hidden cache filename written in every scanned
// directory. The leading dot keeps media servers from indexing it.
const FileName = ".mediabox_cache.json"

var (
	// ErrNotFound is returned by Get when no entry exists for the
	// current fingerprint.
	ErrNotFound = errors.New("cache: entry not found")
)

// DirectoryCache is the in-memory form of one directory's cache file:
// fingerprint -> CacheEntry.
type DirectoryCache map[fingerprint.Fingerprint]*mediatypes.CacheEntry

// mu serializes cache-file reads/writes within this process; the file
// lock (internal/lock) serializes across processes and hosts.
var mu sync.Mutex

// pathFor returns the cache file path for the directory containing
// mediaPath.
func pathFor(mediaPath string) string {
	return filepath.Join(filepath.Dir(mediaPath), FileName)
}

// load reads the directory cache for mediaPath's directory. A missing
// file is not an error — it yields an empty cache.
func load(mediaPath string) (DirectoryCache, error) {
	data, err := os.ReadFile(pathFor(mediaPath))
	if err != nil {
		if os.IsNotExist(err) {
			return DirectoryCache{}, nil
		}
		return nil, err
	}
	dc := DirectoryCache{}
	if err := json.Unmarshal(data, &dc); err != nil {
		return nil, err
	}
	return dc, nil
}

// save writes the directory cache atomically via temp-file-plus-rename
// (renameio.WriteFile handles the same-filesystem temp+fsync+rename
// dance so readers never observe partial JSON).
func save(mediaPath string, dc DirectoryCache) error {
	data, err := json.MarshalIndent(dc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(mediaPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(pathFor(mediaPath), data, 0o644)
}

// Fingerprint computes the current fingerprint for path without
// touching the cache.
func Fingerprint(path string) (fingerprint.Fingerprint, error) {
	return fingerprint.Of(path)
}

// Get loads the cache entry for path's current fingerprint, or
// ErrNotFound if absent.
func Get(path string) (*mediatypes.CacheEntry, error) {
	mu.Lock()
	defer mu.Unlock()

	fp, err := fingerprint.Of(path)
	if err != nil {
		return nil, err
	}
	dc, err := load(path)
	if err != nil {
		return nil, err
	}
	entry, ok := dc[fp]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Put upserts the cache entry for path under its current fingerprint.
func Put(path string, entry *mediatypes.CacheEntry) error {
	mu.Lock()
	defer mu.Unlock()

	fp, err := fingerprint.Of(path)
	if err != nil {
		return err
	}
	dc, err := load(path)
	if err != nil {
		return err
	}
	entry.Fingerprint = string(fp)
	entry.FileName = filepath.Base(path)
	entry.FilePath = path
	entry.LastScanned = time.Now()
	dc[fp] = entry
	return save(path, dc)
}

// UpdateAfter recomputes the fingerprint for path (the transform
// changed size/mtime), inserts the entry under the new key, and drops
// the old one. action/duration/success feed the conversion bookkeeping
// fields on the entry.
func UpdateAfter(oldPath, newPath string, oldFP fingerprint.Fingerprint, entry *mediatypes.CacheEntry, success bool, action mediatypes.Action, duration float64, convErr error) error {
	mu.Lock()
	defer mu.Unlock()

	newFP, err := fingerprint.Of(newPath)
	if err != nil {
		return err
	}
	dc, err := load(newPath)
	if err != nil {
		return err
	}

	entry.Fingerprint = string(newFP)
	entry.FileName = filepath.Base(newPath)
	entry.FilePath = newPath
	entry.LastScanned = time.Now()
	entry.Action = action
	entry.ConversionCount++
	if success {
		entry.LastConversionDuration = duration
		entry.LastConversionError = ""
	} else if convErr != nil {
		entry.LastConversionError = convErr.Error()
	}

	delete(dc, oldFP)
	dc[newFP] = entry
	return save(newPath, dc)
}

// Cleanup removes entries in dir's cache whose backing file no longer
// exists and returns the count removed.
func Cleanup(dir string) (int, error) {
	mu.Lock()
	defer mu.Unlock()

	cachePath := filepath.Join(dir, FileName)
	data, err := os.ReadFile(cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	dc := DirectoryCache{}
	if err := json.Unmarshal(data, &dc); err != nil {
		return 0, err
	}

	removed := 0
	for fp, entry := range dc {
		full := filepath.Join(dir, entry.FileName)
		if _, err := os.Stat(full); err != nil {
			if os.IsNotExist(err) {
				delete(dc, fp)
				removed++
				continue
			}
			logger.Warn("cache cleanup stat failed", "path", full, "error", err)
		}
	}
	if removed == 0 {
		return 0, nil
	}
	out, err := json.MarshalIndent(dc, "", "  ")
	if err != nil {
		return removed, err
	}
	if err := renameio.WriteFile(cachePath, out, 0o644); err != nil {
		return removed, err
	}
	return removed, nil
}

// Query scans the cache files under dirs (recursively) and returns all
// entries matching filter. Used by dbindex.Rebuild, which
// build-media-database runs to rebuild the SQLite index that
// query-media-database reads.
func Query(dirs []string, filter func(*mediatypes.CacheEntry) bool) ([]*mediatypes.CacheEntry, error) {
	var out []*mediatypes.CacheEntry
	for _, root := range dirs {
		err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // best-effort; skip unreadable entries
			}
			if d.IsDir() || d.Name() != FileName {
				return nil
			}
			data, rerr := os.ReadFile(p)
			if rerr != nil {
				logger.Warn("query: failed to read cache file", "path", p, "error", rerr)
				return nil
			}
			dc := DirectoryCache{}
			if uerr := json.Unmarshal(data, &dc); uerr != nil {
				logger.Warn("query: failed to parse cache file", "path", p, "error", uerr)
				return nil
			}
			for _, entry := range dc {
				if filter == nil || filter(entry) {
					out = append(out, entry)
				}
			}
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

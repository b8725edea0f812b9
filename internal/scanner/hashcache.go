package scanner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var hashBucket = []byte("file_hashes")

// HashCache persists (size, mtime) -> content hash per file so repeat
// scans of a long-lived clone skip rehashing unchanged files. Purely an
// optimization: a cold or missing cache only costs extra reads.
type HashCache struct {
	db     *bolt.DB
	logger *slog.Logger
}

type hashEntry struct {
	Size      int64  `json:"size"`
	ModTimeNs int64  `json:"mtime_ns"`
	Hash      string `json:"hash"`
	Lines     int    `json:"lines"`
}

// OpenHashCache opens (creating if needed) the cache file.
func OpenHashCache(path string) (*HashCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open hash cache %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(hashBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize hash cache: %w", err)
	}
	return &HashCache{
		db:     db,
		logger: slog.Default().With("component", "hash_cache"),
	}, nil
}

// Close closes the underlying database.
func (c *HashCache) Close() error {
	return c.db.Close()
}

// Lookup returns the cached hash when size and mtime still match.
func (c *HashCache) Lookup(path string, size int64, modTime time.Time) (string, bool) {
	var entry hashEntry
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(hashBucket).Get([]byte(path))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found || entry.Size != size || entry.ModTimeNs != modTime.UnixNano() {
		return "", false
	}
	return entry.Hash, true
}

// LineCount returns the cached line count for a path, 0 when unknown.
func (c *HashCache) LineCount(path string) int {
	var entry hashEntry
	_ = c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(hashBucket).Get([]byte(path))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &entry)
	})
	return entry.Lines
}

// Store records a freshly computed hash. Write failures only cost a
// future rehash, so they are logged and swallowed.
func (c *HashCache) Store(path string, size int64, modTime time.Time, hash string, lines int) {
	raw, err := json.Marshal(hashEntry{
		Size:      size,
		ModTimeNs: modTime.UnixNano(),
		Hash:      hash,
		Lines:     lines,
	})
	if err != nil {
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(hashBucket).Put([]byte(path), raw)
	}); err != nil {
		c.logger.Warn("hash cache write failed", "path", path, "error", err)
	}
}

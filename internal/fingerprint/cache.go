package fingerprint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Cache persists fingerprints keyed by path|mtime|size so unchanged files
// are never re-rendered across runs.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Fingerprint
	dirty   bool
}

// CacheKey builds the identity key for one file version.
func CacheKey(path string, mtime, size int64) string {
	return fmt.Sprintf("%s|%d|%d", path, mtime, size)
}

// OpenCache loads the cache file, starting empty when it does not exist.
// A corrupt cache is discarded, not fatal.
func OpenCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]Fingerprint),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("discarding corrupt fingerprint cache", "path", path, "error", err)
		c.entries = make(map[string]Fingerprint)
	}
	return c
}

func (c *Cache) Get(key string) (Fingerprint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fp, ok := c.entries[key]
	return fp, ok
}

func (c *Cache) Put(key string, fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = fp
	c.dirty = true
}

// Len returns the number of cached fingerprints.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save writes the cache back to disk when it changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fingerprint cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o640); err != nil {
		return fmt.Errorf("write fingerprint cache: %w", err)
	}
	c.dirty = false
	return nil
}

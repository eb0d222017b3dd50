package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c := OpenCache(path, nil)
	key := CacheKey("/tmp/a.pdf", 1700000000, 4096)
	fp := testFingerprint(0xCAFE, 6)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, fp)
	require.NoError(t, c.Save())

	reloaded := OpenCache(path, nil)
	got, ok := reloaded.Get(key)
	require.True(t, ok)
	assert.Equal(t, fp, got)
	assert.Equal(t, 1, reloaded.Len())
}

func TestCacheKeyIncludesVersion(t *testing.T) {
	a := CacheKey("/tmp/a.pdf", 100, 4096)
	b := CacheKey("/tmp/a.pdf", 101, 4096)
	c := CacheKey("/tmp/a.pdf", 100, 4097)
	assert.NotEqual(t, a, b, "mtime change must change the key")
	assert.NotEqual(t, a, c, "size change must change the key")
}

func TestCacheSaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := OpenCache(path, nil)

	require.NoError(t, c.Save())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean cache must not touch disk")
}

func TestCacheDiscardsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o640))

	c := OpenCache(path, nil)
	assert.Zero(t, c.Len())
}

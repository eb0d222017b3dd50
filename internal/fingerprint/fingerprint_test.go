package fingerprint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contratta/contratta/internal/pdfio"
)

func textDoc(path string) *pdfio.Document {
	return pdfio.NewDocumentFromText(path, []string{
		"CONTRATO DE ADESÃO\nDistribuidora: CEMIG\nInstalação 30112345",
		"Cláusula primeira: do objeto",
	})
}

func TestComputeDegradesWithoutRenderer(t *testing.T) {
	fp := NewFingerprinter(nil, nil, 2, 150, nil)

	got, err := fp.Compute(context.Background(), textDoc("a.pdf"))
	require.NoError(t, err)

	assert.True(t, got.Degraded)
	assert.NotEmpty(t, got.VisualHash)
	assert.NotEmpty(t, got.CompositeID)
	assert.Equal(t, 2, got.Structural.PageCount)
	assert.InDelta(t, 0.70, got.Confidence(), 0.001)
}

func TestComputeDeterministic(t *testing.T) {
	fp := NewFingerprinter(nil, nil, 2, 150, nil)

	first, err := fp.Compute(context.Background(), textDoc("a.pdf"))
	require.NoError(t, err)
	second, err := fp.Compute(context.Background(), textDoc("a.pdf"))
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical content must fingerprint identically")
}

func TestComputeTextShapeSensitive(t *testing.T) {
	fp := NewFingerprinter(nil, nil, 2, 150, nil)

	a, err := fp.Compute(context.Background(), textDoc("a.pdf"))
	require.NoError(t, err)
	b, err := fp.Compute(context.Background(), pdfio.NewDocumentFromText("b.pdf", []string{
		"linha curta",
		"outra",
	}))
	require.NoError(t, err)

	assert.NotEqual(t, a.VisualHash, b.VisualHash)
}

func TestComputeUsesCache(t *testing.T) {
	cache := OpenCache(filepath.Join(t.TempDir(), "cache.json"), nil)
	fp := NewFingerprinter(nil, cache, 2, 150, nil)

	doc := textDoc("a.pdf")
	first, err := fp.Compute(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	// Poison the cache entry to prove the second call reads it.
	key := CacheKey(doc.Path, doc.ModTime, doc.FileSize)
	poisoned := first
	poisoned.CompositeID = "cached-sentinel"
	cache.Put(key, poisoned)

	second, err := fp.Compute(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "cached-sentinel", second.CompositeID)
}

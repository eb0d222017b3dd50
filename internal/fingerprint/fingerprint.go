// Package fingerprint computes layout signatures for contract documents and
// clusters them against a persisted registry of known layouts, so that one
// curated extraction strategy can serve every document sharing a layout.
package fingerprint

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/contratta/contratta/internal/pdfio"
)

const (
	// Fingerprint confidence by hashing capability.
	confidenceVisual   = 0.95
	confidenceDegraded = 0.70
)

// Structural holds the layout features that survive even when page
// rendering is unavailable.
type Structural struct {
	PageCount      int     `json:"page_count"`
	AspectRatio    float64 `json:"aspect_ratio"`
	ColumnEstimate int     `json:"column_estimate"`
	TextDensity    float64 `json:"text_density"`
	HasTables      bool    `json:"has_tables"`
}

// Fingerprint is a compact, comparable signature of a document's layout.
// Created once per document and never mutated; only compared.
type Fingerprint struct {
	VisualHash  string     `json:"visual_hash"`
	Degraded    bool       `json:"degraded"` // structural-text hash fallback in use
	Structural  Structural `json:"structural"`
	CompositeID string     `json:"composite_id"`
}

// Confidence reports how trustworthy comparisons against this fingerprint are.
func (f Fingerprint) Confidence() float64 {
	if f.Degraded {
		return confidenceDegraded
	}
	return confidenceVisual
}

// Fingerprinter computes fingerprints, consulting a mtime/size-keyed cache
// so unchanged files skip recomputation.
type Fingerprinter struct {
	renderer *pdfio.Renderer
	cache    *Cache
	logger   *slog.Logger

	renderPages int
	renderDPI   int
}

func NewFingerprinter(renderer *pdfio.Renderer, cache *Cache, renderPages, renderDPI int, logger *slog.Logger) *Fingerprinter {
	if logger == nil {
		logger = slog.Default()
	}
	if renderPages <= 0 {
		renderPages = 2
	}
	if renderDPI <= 0 {
		renderDPI = 150
	}
	return &Fingerprinter{
		renderer:    renderer,
		cache:       cache,
		logger:      logger,
		renderPages: renderPages,
		renderDPI:   renderDPI,
	}
}

// Compute returns the document's fingerprint, from cache when possible.
// When the rendering capability is missing it falls back to a structural
// text hash with reduced confidence; the pipeline never blocks on it.
func (fp *Fingerprinter) Compute(ctx context.Context, doc *pdfio.Document) (Fingerprint, error) {
	key := CacheKey(doc.Path, doc.ModTime, doc.FileSize)
	if fp.cache != nil {
		if cached, ok := fp.cache.Get(key); ok {
			return cached, nil
		}
	}

	result, err := fp.compute(ctx, doc)
	if err != nil {
		return Fingerprint{}, err
	}

	if fp.cache != nil {
		fp.cache.Put(key, result)
	}
	return result, nil
}

func (fp *Fingerprinter) compute(ctx context.Context, doc *pdfio.Document) (Fingerprint, error) {
	structural := fp.structuralFeatures(doc)

	result := Fingerprint{Structural: structural}

	last := fp.renderPages
	if last > doc.NumPages() {
		last = doc.NumPages()
	}

	var renderErr error
	if fp.renderer != nil {
		images, err := fp.renderer.RenderPages(ctx, doc.Path, 1, last, fp.renderDPI)
		if err == nil {
			hash, hashErr := DifferenceHash(images)
			if hashErr == nil {
				result.VisualHash = FormatHash(hash)
			} else {
				renderErr = hashErr
			}
		} else {
			renderErr = err
		}
	} else {
		renderErr = pdfio.ErrRendererUnavailable
	}

	if result.VisualHash == "" {
		if renderErr != nil && !errors.Is(renderErr, pdfio.ErrRendererUnavailable) {
			fp.logger.Warn("visual hash failed, degrading to structural hash",
				"file", doc.Path, "error", renderErr)
		}
		result.Degraded = true
		result.VisualHash = structuralTextHash(doc)
	}

	result.CompositeID = compositeID(result)
	return result, nil
}

func (fp *Fingerprinter) structuralFeatures(doc *pdfio.Document) Structural {
	pages := doc.PagesRead()
	probe := pages
	if probe > fp.renderPages {
		probe = fp.renderPages
	}

	columns := 0
	density := 0.0
	for i := 1; i <= probe; i++ {
		if c := doc.ColumnEstimate(i); c > columns {
			columns = c
		}
		density += doc.TextDensity(i)
	}
	if probe > 0 {
		density /= float64(probe)
	}

	return Structural{
		PageCount:      doc.NumPages(),
		AspectRatio:    doc.AspectRatio(),
		ColumnEstimate: columns,
		TextDensity:    density,
		HasTables:      doc.HasTables(),
	}
}

// structuralTextHash derives a stable hash from the shape of the opening
// text when rasters are unavailable. Line lengths rather than content keep
// it layout-sensitive but tolerant of per-document values.
func structuralTextHash(doc *pdfio.Document) string {
	var shape strings.Builder
	for page := 1; page <= doc.PagesRead() && page <= 2; page++ {
		for _, line := range strings.Split(doc.PageText(page), "\n") {
			fmt.Fprintf(&shape, "%d.", len(strings.TrimSpace(line)))
		}
		shape.WriteByte('|')
	}
	sum := sha1.Sum([]byte(shape.String()))
	return hex.EncodeToString(sum[:8])
}

func compositeID(f Fingerprint) string {
	canonical := fmt.Sprintf("%s|%d|%d|%.3f|%t",
		f.VisualHash,
		f.Structural.PageCount,
		f.Structural.ColumnEstimate,
		f.Structural.TextDensity,
		f.Structural.HasTables,
	)
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

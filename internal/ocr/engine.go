// Package ocr recognizes the text of image-only pages by shelling out to
// tesseract over rendered page images. Recognition is an optional
// capability: a missing binary is reported once, and a page that exceeds its
// time box is skipped, never retried.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/contratta/contratta/internal/pdfio"
)

// ErrUnavailable signals that optical recognition is not possible on this
// host, either because tesseract or the page renderer is missing.
var ErrUnavailable = errors.New("optical recognition unavailable")

const defaultDPI = 300

// Engine recognizes single pages of a document.
type Engine struct {
	bin         string
	runner      pdfio.Runner
	renderer    *pdfio.Renderer
	pageTimeout time.Duration
	dpi         int
	logger      *slog.Logger
}

// NewEngine probes for the tesseract binary and returns a ready engine.
// A missing binary or an unavailable renderer yields ErrUnavailable.
func NewEngine(bin string, renderer *pdfio.Renderer, runner pdfio.Runner, pageTimeout time.Duration, logger *slog.Logger) (*Engine, error) {
	if bin == "" {
		bin = "tesseract"
	}
	if runner == nil {
		runner = pdfio.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil || !renderer.Available() {
		return nil, fmt.Errorf("page renderer missing: %w", ErrUnavailable)
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%s not found: %w", bin, ErrUnavailable)
	}
	if pageTimeout <= 0 {
		pageTimeout = 40 * time.Second
	}
	return &Engine{
		bin:         bin,
		runner:      runner,
		renderer:    renderer,
		pageTimeout: pageTimeout,
		dpi:         defaultDPI,
		logger:      logger,
	}, nil
}

// PageText renders one page and recognizes it, bounded by the per-page time
// box. Errors, including timeouts, mean the page yields no text; the caller
// decides whether that matters.
func (e *Engine) PageText(ctx context.Context, path string, page int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.pageTimeout)
	defer cancel()

	start := time.Now()

	dir, err := os.MkdirTemp("", "contratta-ocr-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	imagePath, err := e.renderer.RenderPageFile(ctx, path, page, e.dpi, dir)
	if err != nil {
		return "", fmt.Errorf("recognize page %d: %w", page, err)
	}

	// tesseract <image> stdout -l por --psm 6
	out, errb, err := e.runner.Run(ctx, e.bin, imagePath, "stdout", "-l", "por", "--psm", "6")
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("recognize page %d of %s: time box exceeded: %w", page, path, ctx.Err())
		}
		return "", fmt.Errorf("recognize page %d of %s: %w (%s)", page, path, err, strings.TrimSpace(string(errb)))
	}

	text := strings.TrimSpace(string(out))
	e.logger.Debug("page recognized",
		"file", path,
		"page", page,
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

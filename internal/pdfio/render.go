package pdfio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// ErrRendererUnavailable signals that page rasterization is not possible on
// this host. Callers degrade instead of failing.
var ErrRendererUnavailable = errors.New("page renderer unavailable")

// Renderer rasterizes document pages through an external pdftoppm binary.
// The binary is an optional capability: its absence is detected once and
// surfaced as ErrRendererUnavailable on every call.
type Renderer struct {
	bin       string
	runner    Runner
	available bool
}

// NewRenderer probes for the rendering binary and returns a renderer that
// either works or consistently reports unavailability.
func NewRenderer(bin string, runner Runner) *Renderer {
	if bin == "" {
		bin = "pdftoppm"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	_, err := exec.LookPath(bin)
	return &Renderer{
		bin:       bin,
		runner:    runner,
		available: err == nil,
	}
}

// Available reports whether rendering can be attempted at all.
func (r *Renderer) Available() bool { return r.available }

// RenderPages rasterizes pages [first, last] of a document to grayscale
// images at the given DPI.
func (r *Renderer) RenderPages(ctx context.Context, path string, first, last, dpi int) ([]image.Image, error) {
	if !r.available {
		return nil, ErrRendererUnavailable
	}

	tmpDir, err := os.MkdirTemp("", "contratta-render-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -gray -png -f <first> -l <last> <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.bin,
		"-r", fmt.Sprintf("%d", dpi),
		"-gray", "-png",
		"-f", fmt.Sprintf("%d", first),
		"-l", fmt.Sprintf("%d", last),
		path, prefix)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w (%s)", path, err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("render %s: no pages produced", path)
	}

	images := make([]image.Image, 0, len(matches))
	for _, file := range matches {
		img, err := decodePNG(file)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// RenderPageFile rasterizes a single page and returns the PNG path inside
// dir. Used by the OCR collaborator, which hands files to tesseract.
func (r *Renderer) RenderPageFile(ctx context.Context, path string, page, dpi int, dir string) (string, error) {
	if !r.available {
		return "", ErrRendererUnavailable
	}

	prefix := filepath.Join(dir, fmt.Sprintf("p%d", page))
	_, errb, err := r.runner.Run(ctx, r.bin,
		"-r", fmt.Sprintf("%d", dpi),
		"-gray", "-png",
		"-f", fmt.Sprintf("%d", page),
		"-l", fmt.Sprintf("%d", page),
		path, prefix)
	if err != nil {
		return "", fmt.Errorf("render page %d of %s: %w (%s)", page, path, err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return "", fmt.Errorf("render page %d of %s: no image produced", page, path)
	}
	return matches[0], nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

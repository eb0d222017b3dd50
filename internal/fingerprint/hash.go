package fingerprint

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"golang.org/x/image/draw"
)

const (
	hashCols = 9 // one extra column so 8 horizontal comparisons remain
	hashRows = 8
)

// DifferenceHash computes a 64-bit perceptual difference hash over one or
// more page rasters stacked vertically. The stack is scaled to a 9x8
// grayscale grid and each bit records whether a pixel is brighter than its
// right neighbour, which tracks layout while shrugging off pixel noise.
func DifferenceHash(pages []image.Image) (uint64, error) {
	if len(pages) == 0 {
		return 0, fmt.Errorf("no page rasters")
	}

	stacked := stackGray(pages)

	small := image.NewGray(image.Rect(0, 0, hashCols, hashRows))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), stacked, stacked.Bounds(), draw.Src, nil)

	var hash uint64
	for y := 0; y < hashRows; y++ {
		for x := 0; x < hashCols-1; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			hash <<= 1
			if left > right {
				hash |= 1
			}
		}
	}
	return hash, nil
}

// stackGray concatenates images top to bottom into one grayscale raster,
// converting as needed.
func stackGray(pages []image.Image) *image.Gray {
	width, height := 0, 0
	for _, img := range pages {
		b := img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
	}

	stacked := image.NewGray(image.Rect(0, 0, width, height))
	offset := 0
	for _, img := range pages {
		b := img.Bounds()
		dst := image.Rect(0, offset, b.Dx(), offset+b.Dy())
		draw.Draw(stacked, dst, img, b.Min, draw.Src)
		offset += b.Dy()
	}
	return stacked
}

// HammingDistance counts differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// FormatHash renders a hash as fixed-width hex.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// ParseHash reads a hex hash back. Returns 0 for malformed input.
func ParseHash(s string) uint64 {
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return h
}

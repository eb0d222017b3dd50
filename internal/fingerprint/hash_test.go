package fingerprint

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticPage draws a simple two-band layout so the hash has signal.
func syntheticPage(w, h int, bandAt int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			if y > bandAt && y < bandAt+h/8 {
				v = 0
			}
			if x > w/2 && y < h/4 {
				v = 60
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestDifferenceHashDeterministic(t *testing.T) {
	a := syntheticPage(200, 280, 90)
	b := syntheticPage(200, 280, 90)

	h1, err := DifferenceHash([]image.Image{a})
	require.NoError(t, err)
	h2, err := DifferenceHash([]image.Image{b})
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "identical rasters must hash identically")
}

func TestDifferenceHashSensitiveToLayout(t *testing.T) {
	a := syntheticPage(200, 280, 40)
	b := syntheticPage(200, 280, 220)

	h1, err := DifferenceHash([]image.Image{a})
	require.NoError(t, err)
	h2, err := DifferenceHash([]image.Image{b})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "different layouts must differ")
}

func TestDifferenceHashStacksPages(t *testing.T) {
	one := syntheticPage(200, 280, 90)
	two := syntheticPage(200, 280, 180)

	single, err := DifferenceHash([]image.Image{one})
	require.NoError(t, err)
	stacked, err := DifferenceHash([]image.Image{one, two})
	require.NoError(t, err)

	assert.NotEqual(t, single, stacked)
}

func TestDifferenceHashEmpty(t *testing.T) {
	_, err := DifferenceHash(nil)
	assert.Error(t, err)
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance(0xABCD, 0xABCD))
	assert.Equal(t, 1, HammingDistance(0b1000, 0b0000))
	assert.Equal(t, 64, HammingDistance(0, ^uint64(0)))
}

func TestHashRoundTrip(t *testing.T) {
	h := uint64(0xDEADBEEF12345678)
	assert.Equal(t, h, ParseHash(FormatHash(h)))
	assert.Len(t, FormatHash(0), 16)
	assert.Zero(t, ParseHash("not-hex"))
}

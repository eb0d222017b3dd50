package pdfio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPageContainsPanics(t *testing.T) {
	elements, err := readPage(func(int) []TextElement {
		panic("malformed content stream")
	}, 3)

	require.Error(t, err, "a panicking page walk must surface as an error, not unwind the caller")
	assert.Nil(t, elements)
	assert.Contains(t, err.Error(), "page 3")
	assert.Contains(t, err.Error(), "malformed content stream")
}

func TestReadPagePassesElementsThrough(t *testing.T) {
	want := []TextElement{{Text: "Instalação", X: 50, Y: 700, W: 80, H: 12}}

	elements, err := readPage(func(n int) []TextElement {
		assert.Equal(t, 1, n)
		return want
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, want, elements)
}

package dedup

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientJPEG(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8((x + seed) % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestHash_SameImageIsIdentical(t *testing.T) {
	h := NewHasher()
	src := gradientJPEG(t, 0)

	h1, err := h.Hash(src)
	require.NoError(t, err)
	h2, err := h.Hash(src)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, h.IsSimilar(h1, h2))
}

func TestHash_DifferentImagesDiffer(t *testing.T) {
	h := NewHasher()
	a, err := h.Hash(gradientJPEG(t, 0))
	require.NoError(t, err)
	b, err := h.Hash(gradientJPEG(t, 200))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHash_CorruptBytesFail(t *testing.T) {
	h := NewHasher()
	_, err := h.Hash([]byte("not an image"))
	assert.Error(t, err)
}

func TestDistance_IsSymmetric(t *testing.T) {
	h := NewHasher()
	assert.Equal(t, h.Distance(0b1010, 0b0101), h.Distance(0b0101, 0b1010))
	assert.Equal(t, 0, h.Distance(42, 42))
}

func TestFindSimilar_SortsByDistance(t *testing.T) {
	h := NewHasherWithThreshold(64) // accept everything for this test
	candidates := []Candidate{
		{ImageID: "far", Hash: 0b11111111},
		{ImageID: "near", Hash: 0b00000001},
		{ImageID: "exact", Hash: 0b00000000},
	}

	matches := h.FindSimilar(0b00000000, candidates)
	require.Len(t, matches, 3)
	assert.Equal(t, "exact", matches[0].ImageID)
	assert.Equal(t, "near", matches[1].ImageID)
	assert.Equal(t, "far", matches[2].ImageID)
}

func TestFindSimilar_RespectsThreshold(t *testing.T) {
	h := NewHasherWithThreshold(2)
	candidates := []Candidate{
		{ImageID: "close", Hash: 0b011},
		{ImageID: "distant", Hash: 0b111111},
	}

	matches := h.FindSimilar(0b000, candidates)
	require.Len(t, matches, 1)
	assert.Equal(t, "close", matches[0].ImageID)
}

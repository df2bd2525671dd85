package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// testSheet draws a white page with a dark band near the top, roughly the
// shape of a header table.
func testSheet(w, h int, bandTop, bandBottom int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(255)
			if y >= bandTop && y < bandBottom {
				v = 40
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestPreprocessRejectsEmpty(t *testing.T) {
	_, err := Preprocess(nil, Options{})
	ie := AsImageError(err)
	require.NotNil(t, ie)
	assert.Equal(t, ErrEmpty, ie.Kind)
}

func TestPreprocessRejectsTooLarge(t *testing.T) {
	_, err := Preprocess(make([]byte, 100), Options{MaxBytes: 10})
	ie := AsImageError(err)
	require.NotNil(t, ie)
	assert.Equal(t, ErrTooLarge, ie.Kind)
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	_, err := Preprocess([]byte("definitely not an image"), Options{})
	ie := AsImageError(err)
	require.NotNil(t, ie)
	assert.Equal(t, ErrInvalidFormat, ie.Kind)
}

func TestPreprocessDecodesPNG(t *testing.T) {
	raw := encodePNG(t, testSheet(100, 80, 5, 15))
	c, err := Preprocess(raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, "png", c.Format)
	assert.Equal(t, 100, c.Bounds().Dx())
	assert.Equal(t, 80, c.Bounds().Dy())
}

func TestPreprocessUpscalesShortImages(t *testing.T) {
	raw := encodePNG(t, testSheet(60, 40, 2, 8))
	c, err := Preprocess(raw, Options{MinHeight: 80})
	require.NoError(t, err)
	assert.True(t, c.Upscaled)
	assert.Equal(t, 80, c.Bounds().Dy())
}

func TestPreprocessDeterministic(t *testing.T) {
	raw := encodePNG(t, testSheet(120, 100, 10, 25))
	a, err := Preprocess(raw, Options{MinHeight: 150, MaxDeskewDeg: 2})
	require.NoError(t, err)
	b, err := Preprocess(raw, Options{MinHeight: 150, MaxDeskewDeg: 2})
	require.NoError(t, err)
	assert.Equal(t, a.Gray.Pix, b.Gray.Pix)
	assert.Equal(t, a.SkewDeg, b.SkewDeg)
}

func TestSplitRegionsDetectsBand(t *testing.T) {
	// Band occupies 10% of page height, well inside the plausible range.
	img := testSheet(200, 200, 0, 20)
	c := &Canonical{Gray: img, Format: "png"}

	regions := SplitRegions(c, RegionOptions{HeaderBandRatio: 0.22, SheetWidthRatio: 0.62})

	assert.Equal(t, 0, regions.Header.Min.Y)
	// Detected bottom should be near the band end, not the 22% fallback.
	assert.InDelta(t, 20, regions.Header.Max.Y, 6)
	assert.Equal(t, regions.Header.Max.Y, regions.Sheet.Min.Y)
	assert.Equal(t, 124, regions.Header.Max.X) // 62% of 200
	assert.Equal(t, 200, regions.Sheet.Max.Y)
}

func TestSplitRegionsFallbackWithoutBand(t *testing.T) {
	// Uniform white page: no band to find.
	img := testSheet(200, 200, 0, 0)
	c := &Canonical{Gray: img, Format: "png"}

	regions := SplitRegions(c, RegionOptions{HeaderBandRatio: 0.22, SheetWidthRatio: 0.62})

	assert.Equal(t, 44, regions.Header.Max.Y) // 22% of 200
	assert.Equal(t, 44, regions.Sheet.Min.Y)
}

func TestCropClampsToBounds(t *testing.T) {
	img := testSheet(50, 50, 0, 10)
	c := &Canonical{Gray: img}
	sub := Crop(c, image.Rect(-10, -10, 400, 400))
	assert.Equal(t, image.Rect(0, 0, 50, 50), sub.Bounds())
}

// Package imaging normalizes raw auction-sheet uploads into a canonical
// grayscale bitmap ready for field localization and OCR.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// ErrorKind classifies why an upload was rejected before the pipeline ran.
type ErrorKind string

const (
	ErrEmpty         ErrorKind = "empty"
	ErrTooLarge      ErrorKind = "too_large"
	ErrInvalidFormat ErrorKind = "invalid_format"
)

// ImageError is a malformed-input error. It is synchronous: the payload is
// rejected before a record is created and nothing is retried.
type ImageError struct {
	Kind ErrorKind
	Err  error
}

func (e *ImageError) Error() string {
	if e.Err != nil {
		return "imaging: " + string(e.Kind) + ": " + e.Err.Error()
	}
	return "imaging: " + string(e.Kind)
}

func (e *ImageError) Unwrap() error { return e.Err }

// AsImageError returns the ImageError in err's chain, or nil.
func AsImageError(err error) *ImageError {
	var ie *ImageError
	if eris.As(err, &ie) {
		return ie
	}
	return nil
}

// Options controls preprocessing behavior.
type Options struct {
	// MaxBytes rejects payloads above this size. Zero disables the check.
	MaxBytes int
	// MinHeight triggers bilinear upscaling of shorter images.
	MinHeight int
	// MaxDeskewDeg bounds the small-angle deskew search. Zero disables it.
	MaxDeskewDeg float64
}

// Canonical is the normalized bitmap produced by Preprocess.
type Canonical struct {
	Gray     *image.Gray
	Format   string
	SkewDeg  float64
	Upscaled bool
}

// Bounds returns the pixel bounds of the canonical bitmap.
func (c *Canonical) Bounds() image.Rectangle { return c.Gray.Bounds() }

// Sniff cheaply validates a payload before a record is created for it:
// size bounds and a JPEG or PNG magic number. Preprocess repeats the full
// validation, so Sniff passing is not a decode guarantee.
func Sniff(raw []byte, maxBytes int) error {
	if len(raw) == 0 {
		return &ImageError{Kind: ErrEmpty}
	}
	if maxBytes > 0 && len(raw) > maxBytes {
		return &ImageError{Kind: ErrTooLarge}
	}
	if len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xD8 {
		return nil
	}
	if bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")) {
		return nil
	}
	return &ImageError{Kind: ErrInvalidFormat, Err: eris.New("not a JPEG or PNG payload")}
}

// Preprocess validates and normalizes a raw JPEG or PNG payload. It is a
// pure transform: identical input always yields an identical bitmap, so a
// failed stage downstream may safely re-run it.
func Preprocess(raw []byte, opts Options) (*Canonical, error) {
	if len(raw) == 0 {
		return nil, &ImageError{Kind: ErrEmpty}
	}
	if opts.MaxBytes > 0 && len(raw) > opts.MaxBytes {
		return nil, &ImageError{Kind: ErrTooLarge}
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &ImageError{Kind: ErrInvalidFormat, Err: err}
	}
	if format != "jpeg" && format != "png" {
		return nil, &ImageError{Kind: ErrInvalidFormat, Err: eris.Errorf("unsupported format %q", format)}
	}

	gray := toGray(img)
	gray = denoise(gray)

	skew := 0.0
	if opts.MaxDeskewDeg > 0 {
		skew = estimateSkew(gray, opts.MaxDeskewDeg)
		if skew != 0 {
			gray = rotate(gray, -skew)
		}
	}

	upscaled := false
	if h := gray.Bounds().Dy(); opts.MinHeight > 0 && h < opts.MinHeight {
		scale := float64(opts.MinHeight) / float64(h)
		gray = resize(gray, scale)
		upscaled = true
	}

	return &Canonical{Gray: gray, Format: format, SkewDeg: skew, Upscaled: upscaled}, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

// denoise applies a 3x3 median filter, which flattens JPEG ringing around
// glyph edges without blurring strokes the way a box filter would.
func denoise(src *image.Gray) *image.Gray {
	b := src.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return src
	}
	out := image.NewGray(b)
	copy(out.Pix, src.Pix)
	window := make([]byte, 0, 9)
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			window = window[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window = append(window, src.GrayAt(x+dx, y+dy).Y)
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			out.SetGray(x, y, grayColor(window[4]))
		}
	}
	return out
}

// estimateSkew searches angles in [-maxDeg, maxDeg] (0.5 degree steps) for
// the rotation that maximizes the variance of horizontal projection
// profiles. Printed rows line up when the page is level, so the profile is
// sharpest at the true skew.
func estimateSkew(src *image.Gray, maxDeg float64) float64 {
	best, bestScore := 0.0, -1.0
	for deg := -maxDeg; deg <= maxDeg+1e-9; deg += 0.5 {
		score := projectionVariance(src, deg)
		if score > bestScore {
			bestScore = score
			best = deg
		}
	}
	if math.Abs(best) < 0.25 {
		return 0
	}
	return best
}

func projectionVariance(src *image.Gray, deg float64) float64 {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	// Sample a coarse grid; full-resolution projection is unnecessary for a
	// half-degree search.
	const step = 4
	rows := make([]float64, h/step+1)
	for y := 0; y < h; y += step {
		var sum float64
		for x := 0; x < w; x += step {
			sy := int(float64(y)*cos - float64(x)*sin)
			if sy < 0 || sy >= h {
				continue
			}
			sum += 255 - float64(src.GrayAt(b.Min.X+x, b.Min.Y+sy).Y)
		}
		rows[y/step] = sum
	}

	var mean float64
	for _, v := range rows {
		mean += v
	}
	mean /= float64(len(rows))
	var variance float64
	for _, v := range rows {
		d := v - mean
		variance += d * d
	}
	return variance / float64(len(rows))
}

// rotate rotates around the image center with bilinear sampling, filling
// out-of-bounds samples with white.
func rotate(src *image.Gray, deg float64) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(w)/2, float64(h)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := dx*cos - dy*sin + cx
			sy := dx*sin + dy*cos + cy
			out.SetGray(x, y, grayColor(bilinear(src, sx, sy)))
		}
	}
	return out
}

func resize(src *image.Gray, scale float64) *image.Gray {
	b := src.Bounds()
	w := int(float64(b.Dx()) * scale)
	h := int(float64(b.Dy()) * scale)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetGray(x, y, grayColor(bilinear(src, float64(x)/scale, float64(y)/scale)))
		}
	}
	return out
}

func grayColor(v byte) color.Gray { return color.Gray{Y: v} }

func bilinear(src *image.Gray, x, y float64) byte {
	b := src.Bounds()
	if x < 0 || y < 0 || x > float64(b.Dx()-1) || y > float64(b.Dy()-1) {
		return 255
	}
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, b.Dx()-1), min(y0+1, b.Dy()-1)
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := float64(src.GrayAt(b.Min.X+x0, b.Min.Y+y0).Y)
	p10 := float64(src.GrayAt(b.Min.X+x1, b.Min.Y+y0).Y)
	p01 := float64(src.GrayAt(b.Min.X+x0, b.Min.Y+y1).Y)
	p11 := float64(src.GrayAt(b.Min.X+x1, b.Min.Y+y1).Y)

	top := p00*(1-fx) + p10*fx
	bot := p01*(1-fx) + p11*fx
	return byte(top*(1-fy) + bot*fy + 0.5)
}

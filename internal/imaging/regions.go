package imaging

import "image"

// Regions are the two extraction zones of an auction sheet: the structured
// header table band at the top and the free-form inspection sheet below it.
// The right-hand photo strip is excluded from both.
type Regions struct {
	Header image.Rectangle
	Sheet  image.Rectangle
}

// RegionOptions tunes region detection and its fixed-ratio fallback.
type RegionOptions struct {
	// HeaderBandRatio is the fallback header height as a fraction of the
	// page height.
	HeaderBandRatio float64
	// SheetWidthRatio is the fraction of the page width covered by the
	// header table and inspection sheet; the remainder is the photo strip.
	SheetWidthRatio float64
}

const (
	minHeaderRatio = 0.06
	maxHeaderRatio = 0.25
)

// SplitRegions locates the header band and derives the sheet region. The
// header is found by scanning the upper part of the page for the dense band
// the venue template prints the field table into; when no plausible band is
// detected the fixed-ratio layout shared by all known venue templates is
// used instead, so the split never fails.
func SplitRegions(c *Canonical, opts RegionOptions) Regions {
	if opts.HeaderBandRatio <= 0 || opts.HeaderBandRatio > maxHeaderRatio {
		opts.HeaderBandRatio = 0.22
	}
	if opts.SheetWidthRatio <= 0 || opts.SheetWidthRatio > 1 {
		opts.SheetWidthRatio = 0.62
	}

	b := c.Gray.Bounds()
	w, h := b.Dx(), b.Dy()
	left := int(float64(w) * opts.SheetWidthRatio)

	headerBottom := detectHeaderBottom(c.Gray)
	if headerBottom <= 0 || !validHeaderRatio(headerBottom, h) {
		headerBottom = int(float64(h) * opts.HeaderBandRatio)
	}

	return Regions{
		Header: image.Rect(0, 0, left, headerBottom),
		Sheet:  image.Rect(0, headerBottom, left, h),
	}
}

// detectHeaderBottom scans row densities in the top 45% of the page for the
// end of the contiguous dark band the header table forms. Returns 0 when no
// band stands out.
func detectHeaderBottom(g *image.Gray) int {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	limit := int(float64(h) * 0.45)
	if limit < 4 || w < 4 {
		return 0
	}

	const step = 2
	inBand := false
	bandStart, bandEnd := 0, 0
	for y := 0; y < limit; y += step {
		var dark int
		for x := 0; x < w; x += step {
			if g.GrayAt(b.Min.X+x, b.Min.Y+y).Y < 128 {
				dark++
			}
		}
		dense := dark*step*3 > w // more than a third of sampled pixels dark
		switch {
		case dense && !inBand:
			inBand = true
			bandStart = y
		case dense && inBand:
			bandEnd = y
		case !dense && inBand:
			if validHeaderRatio(bandEnd-bandStart, h) {
				return bandEnd + step
			}
			inBand = false
		}
	}
	if inBand && validHeaderRatio(bandEnd-bandStart, h) {
		return bandEnd + step
	}
	return 0
}

func validHeaderRatio(bandHeight, pageHeight int) bool {
	if pageHeight <= 0 {
		return false
	}
	r := float64(bandHeight) / float64(pageHeight)
	return r >= minHeaderRatio && r <= maxHeaderRatio
}

// Crop returns the sub-image for a region, sharing pixels with the
// canonical bitmap.
func Crop(c *Canonical, r image.Rectangle) *image.Gray {
	return c.Gray.SubImage(r.Intersect(c.Gray.Bounds())).(*image.Gray)
}

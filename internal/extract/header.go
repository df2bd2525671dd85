package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/ocr"
)

// ErrTableNotFound is returned when no venue template matches the header
// region well enough to read a table from it.
var ErrTableNotFound = eris.New("extract: header table not found")

// HeaderResult carries the structured fields read from the header table
// plus which template matched, so the caller can record the venue.
type HeaderResult struct {
	Fields map[string]model.FieldValue
	Venue  string
}

// HeaderExtractor reads the printed header table using a venue template.
type HeaderExtractor struct {
	templates *TemplateSet
	floor     float64
}

// NewHeaderExtractor builds an extractor over the given template set.
// floor is the minimum template match score below which the region is
// rejected as not containing a header table.
func NewHeaderExtractor(templates *TemplateSet, floor float64) *HeaderExtractor {
	return &HeaderExtractor{templates: templates, floor: floor}
}

// Extract locates each template label among the tokens and reads the value
// cell to its right (or the remainder of the label token when OCR merged
// label and value). Returns ErrTableNotFound when no template matches.
func (h *HeaderExtractor) Extract(tokens []ocr.Token, venueHint string) (*HeaderResult, error) {
	tpl, err := h.templates.Match(tokens, venueHint, h.floor)
	if err != nil {
		return nil, err
	}

	rows := groupRows(tokens)
	fields := make(map[string]model.FieldValue)
	for _, field := range fieldOrder {
		patterns := tpl.labelPatterns(field)
		if patterns == nil {
			continue
		}
		if fv, ok := findValue(rows, patterns); ok {
			fields[field] = fv
		}
	}

	repairMergedCells(fields)
	discountMileage(fields)
	return &HeaderResult{Fields: fields, Venue: tpl.Venue}, nil
}

// discountMileage folds the multiplier-inference confidence into the
// mileage cell, matching what the sheet path does. An ambiguous bare
// reading must not reach the auto-pass gate at full OCR confidence.
func discountMileage(fields map[string]model.FieldValue) {
	fv, ok := fields[model.FieldMileage]
	if !ok {
		return
	}
	if m, parsed := ParseMileageHeader(fv.Value); parsed {
		fv.Confidence *= m.Confidence
		fields[model.FieldMileage] = fv
	}
}

// row is one visual line of the table, tokens sorted left to right.
type row struct {
	tokens  []ocr.Token
	centerY int
}

// groupRows buckets tokens into visual rows. Two tokens share a row when
// their vertical centers are within 60% of the median token height, with a
// 6px floor for very small scans.
func groupRows(tokens []ocr.Token) []row {
	if len(tokens) == 0 {
		return nil
	}

	heights := make([]int, 0, len(tokens))
	for _, t := range tokens {
		if h := t.BBox.Dy(); h > 0 {
			heights = append(heights, h)
		}
	}
	threshold := 6
	if len(heights) > 0 {
		sort.Ints(heights)
		if t := heights[len(heights)/2] * 6 / 10; t > threshold {
			threshold = t
		}
	}

	sorted := make([]ocr.Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		yi := sorted[i].BBox.Min.Y + sorted[i].BBox.Dy()/2
		yj := sorted[j].BBox.Min.Y + sorted[j].BBox.Dy()/2
		if yi != yj {
			return yi < yj
		}
		return sorted[i].BBox.Min.X < sorted[j].BBox.Min.X
	})

	var rows []row
	for _, tok := range sorted {
		cy := tok.BBox.Min.Y + tok.BBox.Dy()/2
		if n := len(rows); n > 0 && abs(cy-rows[n-1].centerY) <= threshold {
			rows[n-1].tokens = append(rows[n-1].tokens, tok)
			continue
		}
		rows = append(rows, row{tokens: []ocr.Token{tok}, centerY: cy})
	}
	for i := range rows {
		sort.SliceStable(rows[i].tokens, func(a, b int) bool {
			return rows[i].tokens[a].BBox.Min.X < rows[i].tokens[b].BBox.Min.X
		})
	}
	return rows
}

// findValue scans rows for a token matching one of the label patterns and
// returns the value to its right. When the label token itself carries
// trailing text past the label (merged cell), that remainder is the value.
func findValue(rows []row, patterns []*regexp.Regexp) (model.FieldValue, bool) {
	for _, r := range rows {
		for i, tok := range r.tokens {
			norm := Normalize(tok.Text)
			loc := findLabel(patterns, norm)
			if loc == nil {
				continue
			}
			if rest := strings.TrimLeft(norm[loc[1]:], ":"); rest != "" {
				return model.FieldValue{Value: rest, Confidence: tok.Confidence, Raw: tok.Text}, true
			}
			if i+1 < len(r.tokens) {
				next := r.tokens[i+1]
				return model.FieldValue{
					Value:      strings.TrimSpace(Normalize(next.Text)),
					Confidence: next.Confidence,
					Raw:        next.Text,
				}, true
			}
		}
	}
	return model.FieldValue{}, false
}

func findLabel(patterns []*regexp.Regexp, text string) []int {
	for _, re := range patterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			return loc
		}
	}
	return nil
}

// repairMergedCells fixes the common OCR failure where lot, venue, and
// round end up concatenated in one cell. A venue cell containing digits
// or a round cell that is not "N回" gets re-split in place.
func repairMergedCells(fields map[string]model.FieldValue) {
	venue, hasVenue := fields[model.FieldVenue]
	round, hasRound := fields[model.FieldVenueRound]

	if hasVenue && hasDigit(venue.Value) {
		name, r := SplitVenueRound(venue.Value)
		if name != "" && r != "" {
			venue.Value = name
			fields[model.FieldVenue] = venue
			if !hasRound || round.Value == "" {
				fields[model.FieldVenueRound] = model.FieldValue{Value: r, Confidence: venue.Confidence, Raw: venue.Raw}
			}
			return
		}
		lot, name, r := SplitLotVenueRound(venue.Value)
		if name != "" {
			venue.Value = name
			fields[model.FieldVenue] = venue
		}
		if lot != "" {
			if _, ok := fields[model.FieldLot]; !ok {
				fields[model.FieldLot] = model.FieldValue{Value: lot, Confidence: venue.Confidence, Raw: venue.Raw}
			}
		}
		if r != "" && (!hasRound || round.Value == "") {
			fields[model.FieldVenueRound] = model.FieldValue{Value: r, Confidence: venue.Confidence, Raw: venue.Raw}
		}
		return
	}

	if hasRound && round.Value != "" && !CleanRound(round.Value) {
		_, r := SplitVenueRound(round.Value)
		if r != "" {
			round.Value = r
			fields[model.FieldVenueRound] = round
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

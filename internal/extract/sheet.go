package extract

import (
	"strings"

	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/ocr"
)

// SheetExtractor reads the handwritten/stamped sheet body. Sheet text is
// messier than the header table, so confidences are capped at a ceiling
// and extraction never fails: an unreadable sheet yields an empty map.
type SheetExtractor struct {
	ceiling float64
}

// NewSheetExtractor builds a sheet extractor. ceiling caps every sheet
// field's confidence so a sheet value alone can never clear the auto-pass
// floor without header agreement.
func NewSheetExtractor(ceiling float64) *SheetExtractor {
	return &SheetExtractor{ceiling: ceiling}
}

var (
	chassisLabels = []string{"車台番号", "車台", "車体番号"}
	mileageLabels = []string{"走行距離", "走行"}
	noteLabels    = []string{"注意", "検査", "備考", "セールスポイント"}
)

// Extract pulls chassis number, mileage, and free-text notes out of the
// sheet tokens.
func (s *SheetExtractor) Extract(tokens []ocr.Token) map[string]model.FieldValue {
	fields := make(map[string]model.FieldValue)
	rows := groupRows(tokens)

	if fv, ok := s.chassis(rows); ok {
		fields[model.FieldChassis] = fv
	}
	if fv, ok := s.mileage(rows); ok {
		fields[model.FieldMileage] = fv
	}
	if fv, ok := s.notes(rows); ok {
		fields[model.FieldNotes] = fv
	}
	return fields
}

// chassis looks for a labelled chassis cell first, then falls back to any
// token shaped like a chassis code. Label anchoring wins because stamped
// model codes elsewhere on the sheet also look like chassis numbers.
func (s *SheetExtractor) chassis(rows []row) (model.FieldValue, bool) {
	for _, r := range rows {
		for i, tok := range r.tokens {
			norm := Normalize(tok.Text)
			if !hasAnyPrefix(norm, chassisLabels) {
				continue
			}
			if rest := strings.TrimLeft(trimAnyPrefix(norm, chassisLabels), ":"); ValidChassis(rest) {
				return s.capped(strings.ToUpper(rest), tok.Confidence, tok.Text), true
			}
			if i+1 < len(r.tokens) {
				next := r.tokens[i+1]
				if v := strings.ToUpper(Normalize(next.Text)); ValidChassis(v) {
					return s.capped(v, next.Confidence, next.Text), true
				}
			}
		}
	}
	for _, r := range rows {
		for _, tok := range r.tokens {
			if v := strings.ToUpper(Normalize(tok.Text)); ValidChassis(v) {
				return s.capped(v, tok.Confidence*0.8, tok.Text), true
			}
		}
	}
	return model.FieldValue{}, false
}

// mileage finds a km-suffixed token, or a labelled mileage cell.
func (s *SheetExtractor) mileage(rows []row) (model.FieldValue, bool) {
	for _, r := range rows {
		for _, tok := range r.tokens {
			if !mentionsKM(tok.Text) || !hasDigit(tok.Text) {
				continue
			}
			if m, ok := ParseMileageSheet(tok.Text); ok {
				return s.capped(m.Raw, tok.Confidence*m.Confidence, tok.Text), true
			}
		}
	}
	for _, r := range rows {
		for i, tok := range r.tokens {
			if !hasAnyPrefix(Normalize(tok.Text), mileageLabels) || i+1 >= len(r.tokens) {
				continue
			}
			next := r.tokens[i+1]
			if m, ok := ParseMileageSheet(next.Text); ok {
				return s.capped(m.Raw, next.Confidence*m.Confidence, next.Text), true
			}
		}
	}
	return model.FieldValue{}, false
}

// notes concatenates every row that starts with an inspector note label.
func (s *SheetExtractor) notes(rows []row) (model.FieldValue, bool) {
	var parts []string
	minConf := 1.0
	for _, r := range rows {
		if len(r.tokens) == 0 || !hasAnyPrefix(Normalize(r.tokens[0].Text), noteLabels) {
			continue
		}
		var line []string
		for _, tok := range r.tokens {
			line = append(line, strings.TrimSpace(tok.Text))
			if tok.Confidence < minConf {
				minConf = tok.Confidence
			}
		}
		parts = append(parts, strings.Join(line, " "))
	}
	if len(parts) == 0 {
		return model.FieldValue{}, false
	}
	joined := strings.Join(parts, "\n")
	return s.capped(joined, minConf, joined), true
}

func (s *SheetExtractor) capped(value string, conf float64, raw string) model.FieldValue {
	if conf > s.ceiling {
		conf = s.ceiling
	}
	if conf < 0 {
		conf = 0
	}
	return model.FieldValue{Value: value, Confidence: conf, Raw: raw}
}

func hasAnyPrefix(text string, labels []string) bool {
	for _, l := range labels {
		if strings.HasPrefix(text, l) {
			return true
		}
	}
	return false
}

func trimAnyPrefix(text string, labels []string) string {
	for _, l := range labels {
		if strings.HasPrefix(text, l) {
			return strings.TrimPrefix(text, l)
		}
	}
	return text
}

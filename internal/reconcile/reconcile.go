// Package reconcile merges the header-table and sheet-body extractions of
// one auction record into a single field set and decides whether the
// record can pass without human review.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/auction-ocr/internal/extract"
	"github.com/sells-group/auction-ocr/internal/model"
)

// Policy holds the tunable comparison thresholds. Zero values are not
// usable; build one from config.
type Policy struct {
	// ConfidenceFloor is the minimum confidence every required field must
	// reach for an automatic pass.
	ConfidenceFloor float64
	// MileageToleranceKM is the largest header/sheet odometer gap treated
	// as agreement.
	MileageToleranceKM int
	// ScoreTolerance is the largest numeric grade gap treated as agreement.
	ScoreTolerance float64
}

// Outcome is the result of reconciling one record. Status is always
// StatusAutoPass or StatusNeedsReview; failures happen upstream.
type Outcome struct {
	Fields        map[string]model.ReconciledField
	Discrepancies []model.Discrepancy
	Status        model.Status
	ReviewReasons []string
}

// severityFor marks required-field disagreements as major; everything else
// is minor.
func severityFor(field string) model.Severity {
	for _, f := range model.P0Fields {
		if f == field {
			return model.SeverityMajor
		}
	}
	return model.SeverityMinor
}

// Reconcile merges header and sheet fields. The header table is printed
// and template anchored, so on any disagreement the header value is kept
// and the sheet value is preserved in the discrepancy for the reviewer.
func Reconcile(header, sheet map[string]model.FieldValue, p Policy) Outcome {
	out := Outcome{Fields: make(map[string]model.ReconciledField)}

	for field, hv := range header {
		sv, inSheet := sheet[field]
		if !inSheet {
			out.Fields[field] = model.ReconciledField{
				Value:      hv.Value,
				Confidence: hv.Confidence,
				Source:     model.SourceHeader,
			}
			continue
		}

		if agrees(field, hv, sv, p) {
			conf := hv.Confidence
			if sv.Confidence > conf {
				conf = sv.Confidence
			}
			out.Fields[field] = model.ReconciledField{
				Value:      hv.Value,
				Confidence: conf,
				Source:     model.SourceMerged,
			}
			continue
		}

		out.Fields[field] = model.ReconciledField{
			Value:       hv.Value,
			Confidence:  hv.Confidence,
			Source:      model.SourceHeader,
			Discrepancy: true,
		}
		out.Discrepancies = append(out.Discrepancies, model.Discrepancy{
			Field:       field,
			HeaderValue: hv.Value,
			SheetValue:  sv.Value,
			Severity:    severityFor(field),
		})
	}

	for field, sv := range sheet {
		if _, seen := header[field]; seen {
			continue
		}
		out.Fields[field] = model.ReconciledField{
			Value:      sv.Value,
			Confidence: sv.Confidence,
			Source:     model.SourceSheet,
		}
	}

	sort.Slice(out.Discrepancies, func(i, j int) bool {
		return out.Discrepancies[i].Field < out.Discrepancies[j].Field
	})

	out.Status, out.ReviewReasons = decide(out.Fields, out.Discrepancies, p)
	return out
}

// decide applies the auto-pass gate: every required field present at or
// above the confidence floor, and no discrepancies at all.
func decide(fields map[string]model.ReconciledField, discrepancies []model.Discrepancy, p Policy) (model.Status, []string) {
	var reasons []string

	for _, field := range model.P0Fields {
		rf, ok := fields[field]
		switch {
		case !ok || rf.Value == "":
			reasons = append(reasons, fmt.Sprintf("missing required field %s", field))
		case rf.Confidence < p.ConfidenceFloor:
			reasons = append(reasons, fmt.Sprintf("low confidence on %s (%.2f)", field, rf.Confidence))
		}
	}
	for _, d := range discrepancies {
		reasons = append(reasons, fmt.Sprintf("%s severity %s: header %q vs sheet %q", d.Field, d.Severity, d.HeaderValue, d.SheetValue))
	}

	if len(reasons) == 0 {
		return model.StatusAutoPass, nil
	}
	return model.StatusNeedsReview, reasons
}

// agrees compares one field across sources using field-aware semantics:
// numeric tolerance for mileage and score, exact normalized text otherwise.
func agrees(field string, hv, sv model.FieldValue, p Policy) bool {
	switch field {
	case model.FieldMileage:
		hm, hok := extract.ParseMileageHeader(hv.Value)
		sm, sok := extract.ParseMileageSheet(sv.Value)
		if hok && sok {
			return absInt(hm.KM-sm.KM) <= p.MileageToleranceKM
		}
	case model.FieldScore:
		hs, hok := extract.ParseScore(hv.Value)
		ss, sok := extract.ParseScore(sv.Value)
		if hok && sok {
			if hs.IsNum && ss.IsNum {
				return absFloat(hs.Numeric-ss.Numeric) <= p.ScoreTolerance
			}
			return hs.Grade == ss.Grade
		}
	case model.FieldChassis:
		return strings.EqualFold(extract.Normalize(hv.Value), extract.Normalize(sv.Value))
	}
	return extract.Normalize(hv.Value) == extract.Normalize(sv.Value)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// OverallConfidence is the mean confidence across the required fields that
// are present. Records with no required fields score zero.
func OverallConfidence(fields map[string]model.ReconciledField) float64 {
	var sum float64
	n := 0
	for _, field := range model.P0Fields {
		if rf, ok := fields[field]; ok && rf.Value != "" {
			sum += rf.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

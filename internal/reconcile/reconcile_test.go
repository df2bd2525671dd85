package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ocr/internal/model"
)

func testPolicy() Policy {
	return Policy{
		ConfidenceFloor:    0.9,
		MileageToleranceKM: 1000,
		ScoreTolerance:     0.5,
	}
}

func fullHeader() map[string]model.FieldValue {
	return map[string]model.FieldValue{
		model.FieldLot:      {Value: "12345", Confidence: 0.97},
		model.FieldVenue:    {Value: "名古屋", Confidence: 0.96},
		model.FieldScore:    {Value: "4.5", Confidence: 0.95},
		model.FieldFinalBid: {Value: "1,234,000", Confidence: 0.94},
		model.FieldChassis:  {Value: "GRX130-6794224", Confidence: 0.93},
		model.FieldMileage:  {Value: "7,496", Confidence: 0.95},
	}
}

func TestReconcileAutoPass(t *testing.T) {
	sheet := map[string]model.FieldValue{
		model.FieldChassis: {Value: "grx130-6794224", Confidence: 0.8},
		model.FieldMileage: {Value: "7,500 km", Confidence: 0.8},
	}
	out := Reconcile(fullHeader(), sheet, testPolicy())

	assert.Equal(t, model.StatusAutoPass, out.Status)
	assert.Empty(t, out.Discrepancies)
	assert.Empty(t, out.ReviewReasons)

	assert.Equal(t, model.SourceMerged, out.Fields[model.FieldChassis].Source)
	assert.Equal(t, model.SourceMerged, out.Fields[model.FieldMileage].Source)
	assert.Equal(t, model.SourceHeader, out.Fields[model.FieldLot].Source)
}

func TestReconcileMileageDisagreement(t *testing.T) {
	p := testPolicy()
	p.MileageToleranceKM = 200

	header := fullHeader()
	header[model.FieldMileage] = model.FieldValue{Value: "8,000", Confidence: 0.95}
	sheet := map[string]model.FieldValue{
		model.FieldMileage: {Value: "7,496 km", Confidence: 0.8},
	}
	out := Reconcile(header, sheet, p)

	require.Equal(t, model.StatusNeedsReview, out.Status)
	require.Len(t, out.Discrepancies, 1)

	d := out.Discrepancies[0]
	assert.Equal(t, model.FieldMileage, d.Field)
	assert.Equal(t, "8,000", d.HeaderValue)
	assert.Equal(t, "7,496 km", d.SheetValue)
	assert.Equal(t, model.SeverityMajor, d.Severity)

	// Header value wins but the field stays marked.
	rf := out.Fields[model.FieldMileage]
	assert.Equal(t, "8,000", rf.Value)
	assert.Equal(t, model.SourceHeader, rf.Source)
	assert.True(t, rf.Discrepancy)
	assert.NotEmpty(t, out.ReviewReasons)
}

func TestReconcileMileageWithinTolerance(t *testing.T) {
	header := fullHeader()
	header[model.FieldMileage] = model.FieldValue{Value: "8", Confidence: 0.95} // 8,000 km by convention
	sheet := map[string]model.FieldValue{
		model.FieldMileage: {Value: "7,496 km", Confidence: 0.8},
	}
	out := Reconcile(header, sheet, testPolicy())

	assert.Equal(t, model.StatusAutoPass, out.Status)
	assert.Empty(t, out.Discrepancies)
}

func TestReconcileScoreTolerance(t *testing.T) {
	header := fullHeader()
	sheet := map[string]model.FieldValue{
		model.FieldScore: {Value: "4", Confidence: 0.8},
	}
	out := Reconcile(header, sheet, testPolicy())
	assert.Empty(t, out.Discrepancies)

	sheet[model.FieldScore] = model.FieldValue{Value: "3.5", Confidence: 0.8}
	out = Reconcile(header, sheet, testPolicy())
	require.Len(t, out.Discrepancies, 1)
	assert.Equal(t, model.FieldScore, out.Discrepancies[0].Field)
}

func TestReconcileLetterGrade(t *testing.T) {
	header := fullHeader()
	header[model.FieldScore] = model.FieldValue{Value: "RA", Confidence: 0.95}
	sheet := map[string]model.FieldValue{
		model.FieldScore: {Value: "RA", Confidence: 0.8},
	}
	out := Reconcile(header, sheet, testPolicy())
	assert.Empty(t, out.Discrepancies)

	sheet[model.FieldScore] = model.FieldValue{Value: "R", Confidence: 0.8}
	out = Reconcile(header, sheet, testPolicy())
	assert.Len(t, out.Discrepancies, 1)
}

func TestReconcileMissingRequiredField(t *testing.T) {
	header := fullHeader()
	delete(header, model.FieldChassis)
	out := Reconcile(header, nil, testPolicy())

	require.Equal(t, model.StatusNeedsReview, out.Status)
	assert.Contains(t, out.ReviewReasons[0], "chassis_no")
}

func TestReconcileLowConfidence(t *testing.T) {
	header := fullHeader()
	header[model.FieldLot] = model.FieldValue{Value: "12345", Confidence: 0.5}
	out := Reconcile(header, nil, testPolicy())

	require.Equal(t, model.StatusNeedsReview, out.Status)
	assert.Contains(t, out.ReviewReasons[0], "lot_no")
}

func TestReconcileSheetOnlyField(t *testing.T) {
	sheet := map[string]model.FieldValue{
		model.FieldNotes: {Value: "リアバンパー傷", Confidence: 0.7},
	}
	out := Reconcile(fullHeader(), sheet, testPolicy())

	rf := out.Fields[model.FieldNotes]
	assert.Equal(t, model.SourceSheet, rf.Source)
	assert.Equal(t, "リアバンパー傷", rf.Value)
}

func TestReconcileMinorSeverityForNonRequired(t *testing.T) {
	header := fullHeader()
	header[model.FieldColor] = model.FieldValue{Value: "白", Confidence: 0.9}
	sheet := map[string]model.FieldValue{
		model.FieldColor: {Value: "黒", Confidence: 0.8},
	}
	out := Reconcile(header, sheet, testPolicy())

	require.Len(t, out.Discrepancies, 1)
	assert.Equal(t, model.SeverityMinor, out.Discrepancies[0].Severity)
	assert.Equal(t, model.StatusNeedsReview, out.Status)
}

// Every discrepancy list entry must have its field flagged, and every
// flagged field must appear in the discrepancy list.
func TestReconcileDiscrepancyFlagsRoundTrip(t *testing.T) {
	header := fullHeader()
	header[model.FieldColor] = model.FieldValue{Value: "白", Confidence: 0.9}
	sheet := map[string]model.FieldValue{
		model.FieldColor:   {Value: "黒", Confidence: 0.8},
		model.FieldChassis: {Value: "ZVW30-1234567", Confidence: 0.8},
		model.FieldMileage: {Value: "7,500 km", Confidence: 0.8},
	}
	out := Reconcile(header, sheet, testPolicy())

	flagged := map[string]bool{}
	for field, rf := range out.Fields {
		if rf.Discrepancy {
			flagged[field] = true
		}
	}
	listed := map[string]bool{}
	for _, d := range out.Discrepancies {
		listed[d.Field] = true
	}
	assert.Equal(t, flagged, listed)
	assert.True(t, listed[model.FieldChassis])
	assert.True(t, listed[model.FieldColor])
	assert.False(t, listed[model.FieldMileage])
}

func TestOverallConfidence(t *testing.T) {
	out := Reconcile(fullHeader(), nil, testPolicy())
	conf := OverallConfidence(out.Fields)
	assert.InDelta(t, 0.95, conf, 0.02)

	assert.Zero(t, OverallConfidence(nil))
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ocr/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRecord() *model.Record {
	return &model.Record{
		ID:         uuid.New().String(),
		Revision:   1,
		SourceHash: uuid.New().String(),
		Status:     model.StatusProcessing,
	}
}

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	rec.VenueHint = "USS"
	require.NoError(t, s.CreateRecord(ctx, rec))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "USS", got.VenueHint)
	assert.Equal(t, model.StatusProcessing, got.Status)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, model.ActorPipeline, got.StatusHistory[0].Actor)
}

func TestSQLiteGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecord(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteDuplicateSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))

	dup := newTestRecord()
	dup.SourceHash = rec.SourceHash
	err := s.CreateRecord(ctx, dup)
	assert.True(t, eris.Is(err, ErrDuplicateSource))

	// A new revision of the same source is allowed.
	rev2 := newTestRecord()
	rev2.SourceHash = rec.SourceHash
	rev2.Revision = 2
	require.NoError(t, s.CreateRecord(ctx, rev2))

	latest, err := s.FindBySourceHash(ctx, rec.SourceHash)
	require.NoError(t, err)
	assert.Equal(t, rev2.ID, latest.ID)
	assert.Equal(t, 2, latest.Revision)
}

func TestSQLiteFindBySourceHashNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindBySourceHash(context.Background(), "nope")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteSaveExtraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))

	rec.HeaderFields = map[string]model.FieldValue{
		model.FieldLot: {Value: "12345", Confidence: 0.97},
	}
	rec.Reconciled = map[string]model.ReconciledField{
		model.FieldLot: {Value: "12345", Confidence: 0.97, Source: model.SourceHeader},
	}
	rec.Lot = "12345"
	rec.Venue = "名古屋"
	rec.OverallConfidence = 0.97
	require.NoError(t, s.SaveExtraction(ctx, rec, model.StatusNeedsReview))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, got.Status)
	assert.Equal(t, "12345", got.Lot)
	assert.Equal(t, "12345", got.Reconciled[model.FieldLot].Value)
	require.Len(t, got.StatusHistory, 2)
	assert.Equal(t, model.StatusNeedsReview, got.StatusHistory[1].Status)
}

func TestSQLiteSaveExtractionGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))

	// Fail the record behind the pipeline's back.
	require.NoError(t, s.MarkFailed(ctx, rec.ID, "timed out", model.ActorPipeline))

	// The in-memory copy still thinks it is processing; the write loses.
	err := s.SaveExtraction(ctx, rec, model.StatusAutoPass)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
}

func TestSQLiteTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))
	require.NoError(t, s.SaveExtraction(ctx, rec, model.StatusNeedsReview))

	require.NoError(t, s.Transition(ctx, rec.ID, model.StatusNeedsReview, model.StatusVerified, "reviewer-1"))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, got.Status)
	last := got.StatusHistory[len(got.StatusHistory)-1]
	assert.Equal(t, "reviewer-1", last.Actor)
	assert.Equal(t, model.StatusVerified, last.Status)
}

func TestSQLiteTransitionRejectsBackward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))
	require.NoError(t, s.SaveExtraction(ctx, rec, model.StatusAutoPass))

	err := s.Transition(ctx, rec.ID, model.StatusAutoPass, model.StatusProcessing, "reviewer-1")
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	// History untouched by the rejected move.
	got, gerr := s.GetRecord(ctx, rec.ID)
	require.NoError(t, gerr)
	assert.Len(t, got.StatusHistory, 2)
}

func TestSQLiteTransitionWrongCurrentStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))

	// Record is processing, caller believes needs_review.
	err := s.Transition(ctx, rec.ID, model.StatusNeedsReview, model.StatusVerified, "reviewer-1")
	assert.True(t, eris.Is(err, ErrInvalidTransition))
}

func TestSQLiteMarkFailedTerminalRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))
	require.NoError(t, s.MarkFailed(ctx, rec.ID, "bad scan", model.ActorPipeline))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "bad scan", got.FailureReason)

	err = s.MarkFailed(ctx, rec.ID, "again", model.ActorPipeline)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
}

func TestSQLiteListRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, venue := range []string{"名古屋", "名古屋", "東京"} {
		rec := newTestRecord()
		require.NoError(t, s.CreateRecord(ctx, rec))
		rec.Venue = venue
		rec.Lot = "1000" + string(rune('0'+i))
		rec.Chassis = "GRX130-679422" + string(rune('0'+i))
		to := model.StatusAutoPass
		if i == 2 {
			rec.Discrepancies = []model.Discrepancy{{
				Field: model.FieldMileage, HeaderValue: "8,000", SheetValue: "7,496 km",
				Severity: model.SeverityMajor,
			}}
			to = model.StatusNeedsReview
		}
		require.NoError(t, s.SaveExtraction(ctx, rec, to))
	}

	all, err := s.ListRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byVenue, err := s.ListRecords(ctx, RecordFilter{Venue: "名古屋"})
	require.NoError(t, err)
	assert.Len(t, byVenue, 2)

	byStatus, err := s.ListRecords(ctx, RecordFilter{Status: model.StatusNeedsReview})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "東京", byStatus[0].Venue)

	flagged := true
	withDisc, err := s.ListRecords(ctx, RecordFilter{HasDiscrepancy: &flagged})
	require.NoError(t, err)
	assert.Len(t, withDisc, 1)

	clean := false
	without, err := s.ListRecords(ctx, RecordFilter{HasDiscrepancy: &clean})
	require.NoError(t, err)
	assert.Len(t, without, 2)

	// Search folds width, so a full-width query matches.
	found, err := s.ListRecords(ctx, RecordFilter{Search: "ｇｒｘ１３０"})
	require.NoError(t, err)
	assert.Len(t, found, 3)

	limited, err := s.ListRecords(ctx, RecordFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteSearchMultiWord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))
	rec.MakeModel = "カローラ ツーリング"
	rec.Venue = "名古屋"
	require.NoError(t, s.SaveExtraction(ctx, rec, model.StatusAutoPass))

	// A record's own make/model, verbatim, must find it.
	found, err := s.ListRecords(ctx, RecordFilter{Search: "カローラ ツーリング"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, rec.ID, found[0].ID)

	// Full-width spaces in the query fold to the stored narrow form.
	folded, err := s.ListRecords(ctx, RecordFilter{Search: "カローラ　ツーリング"})
	require.NoError(t, err)
	assert.Len(t, folded, 1)

	none, err := s.ListRecords(ctx, RecordFilter{Search: "カローラ セダン"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteListRecordsBounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dates := []time.Time{
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
	}
	scores := []float64{3.5, 4.5, 5.0}
	kms := []int{120000, 7496, 45000}

	for i := range dates {
		rec := newTestRecord()
		require.NoError(t, s.CreateRecord(ctx, rec))
		d := dates[i]
		rec.AuctionDate = &d
		rec.ScoreNumeric = scores[i]
		rec.MileageKM = kms[i]
		require.NoError(t, s.SaveExtraction(ctx, rec, model.StatusAutoPass))
	}

	march, err := s.ListRecords(ctx, RecordFilter{
		DateFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, march, 2)

	highScore, err := s.ListRecords(ctx, RecordFilter{ScoreMin: 4.5})
	require.NoError(t, err)
	assert.Len(t, highScore, 2)

	lowMileage, err := s.ListRecords(ctx, RecordFilter{MileageMax: 50000})
	require.NoError(t, err)
	assert.Len(t, lowMileage, 2)

	both, err := s.ListRecords(ctx, RecordFilter{ScoreMin: 4.5, MileageMax: 10000})
	require.NoError(t, err)
	assert.Len(t, both, 1)
}

func TestSQLiteSweepStuck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stuck := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, stuck))
	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), stuck.ID)
	require.NoError(t, err)

	fresh := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, fresh))

	n, err := s.SweepStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRecord(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "stuck")

	got, err = s.GetRecord(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestSQLiteOverrideField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))
	rec.Reconciled = map[string]model.ReconciledField{
		model.FieldMileage: {Value: "85", Confidence: 0.65, Source: model.SourceHeader},
	}
	rec.MileageKM = 85000
	require.NoError(t, s.SaveExtraction(ctx, rec, model.StatusNeedsReview))

	got, err := s.OverrideField(ctx, rec.ID, model.FieldMileage, "7,496", "misread odometer", "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, "7,496", got.Reconciled[model.FieldMileage].Value)
	assert.Equal(t, model.SourceOverride, got.Reconciled[model.FieldMileage].Source)
	assert.InDelta(t, 1.0, got.Reconciled[model.FieldMileage].Confidence, 0.001)
	assert.Equal(t, 7496, got.MileageKM)

	stored, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 7496, stored.MileageKM)
	assert.Equal(t, "7,496", stored.Reconciled[model.FieldMileage].Value)
	// Still in review; only an explicit verify closes the record.
	assert.Equal(t, model.StatusNeedsReview, stored.Status)

	trail, err := s.ListOverrides(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.FieldMileage, trail[0].Field)
	assert.Equal(t, "85", trail[0].OldValue)
	assert.Equal(t, "7,496", trail[0].NewValue)
	assert.Equal(t, "misread odometer", trail[0].Reason)
	assert.Equal(t, "reviewer-1", trail[0].Actor)
}

func TestSQLiteOverrideRequiresReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))
	require.NoError(t, s.SaveExtraction(ctx, rec, model.StatusAutoPass))

	_, err := s.OverrideField(ctx, rec.ID, model.FieldLot, "99999", "", "reviewer-1")
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	_, err = s.OverrideField(ctx, "missing", model.FieldLot, "99999", "", "reviewer-1")
	assert.True(t, eris.Is(err, ErrNotFound))

	trail, terr := s.ListOverrides(ctx, rec.ID)
	require.NoError(t, terr)
	assert.Empty(t, trail)
}

func TestSQLiteSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSource(ctx, "abc123", []byte{0xFF, 0xD8, 0x01}))
	// Same hash again is a no-op, not an error.
	require.NoError(t, s.SaveSource(ctx, "abc123", []byte{0xFF, 0xD8, 0x02}))

	data, err := s.GetSource(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01}, data)

	_, err = s.GetSource(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, to := range []model.Status{model.StatusAutoPass, model.StatusAutoPass, model.StatusNeedsReview} {
		rec := newTestRecord()
		require.NoError(t, s.CreateRecord(ctx, rec))
		require.NoError(t, s.SaveExtraction(ctx, rec, to))
	}
	rec := newTestRecord()
	require.NoError(t, s.CreateRecord(ctx, rec))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.ByStatus[model.StatusAutoPass])
	assert.Equal(t, 1, st.ByStatus[model.StatusNeedsReview])
	assert.Equal(t, 1, st.ByStatus[model.StatusProcessing])
	assert.Equal(t, 1, st.ReviewDepth)
	assert.InDelta(t, 2.0/3.0, st.AutoPassRate, 0.001)
}

package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ocr/internal/config"
	"github.com/sells-group/auction-ocr/internal/imaging"
	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/ocr"
	"github.com/sells-group/auction-ocr/internal/store"
)

// fakeEngine serves canned tokens per region. The header region always
// starts at the top of the page, which is how the two passes are told
// apart.
type fakeEngine struct {
	headerTokens []ocr.Token
	sheetTokens  []ocr.Token
	headerErr    error
	sheetErr     error
}

func (f *fakeEngine) Recognize(_ context.Context, _ *image.Gray, region image.Rectangle) (ocr.Result, error) {
	if region.Min.Y == 0 {
		if f.headerErr != nil {
			return ocr.Result{}, f.headerErr
		}
		return ocr.Result{Engine: "fake", Tokens: f.headerTokens}, nil
	}
	if f.sheetErr != nil {
		return ocr.Result{}, f.sheetErr
	}
	return ocr.Result{Engine: "fake", Tokens: f.sheetTokens}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{MaxSizeMB: 15},
		Extract: config.ExtractConfig{
			TemplateMatchFloor: 0.2,
			SheetCeiling:       0.85,
		},
		Reconcile: config.ReconcileConfig{
			ConfidenceFloor:    0.8,
			MileageToleranceKM: 1000,
			ScoreTolerance:     0.5,
		},
	}
}

func newTestPipeline(t *testing.T, engine ocr.Engine) (*Pipeline, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	p, err := New(testConfig(), st, engine)
	require.NoError(t, err)
	return p, st
}

func tok(text string, conf float64, x, y int) ocr.Token {
	return ocr.Token{
		Text:       text,
		Confidence: conf,
		BBox:       image.Rect(x, y, x+len([]rune(text))*20, y+24),
	}
}

func headerTokens() []ocr.Token {
	return []ocr.Token{
		tok("開催日", 0.98, 10, 10),
		tok("2024.3.15", 0.97, 120, 10),
		tok("会場", 0.99, 300, 10),
		tok("名古屋", 0.96, 380, 12),
		tok("出品番号", 0.98, 560, 10),
		tok("12345", 0.95, 700, 11),
		tok("走行", 0.97, 10, 60),
		tok("7,496", 0.94, 120, 60),
		tok("評価点", 0.98, 300, 60),
		tok("4.5", 0.96, 420, 61),
		tok("落札価格", 0.97, 560, 60),
		tok("1,234,000", 0.93, 720, 60),
		tok("車種名", 0.97, 10, 110),
		tok("プリウスS", 0.94, 120, 110),
		tok("年式", 0.98, 300, 110),
		tok("R5", 0.95, 420, 110),
	}
}

func sheetTokens() []ocr.Token {
	return []ocr.Token{
		tok("車台番号", 0.95, 10, 10),
		tok("GRX130-6794224", 0.92, 160, 10),
		tok("7,496km", 0.9, 10, 60),
		tok("注意", 0.9, 10, 110),
		tok("リアバンパー傷", 0.88, 90, 110),
	}
}

// sheetPNG builds a small valid payload. seed perturbs one pixel so the
// dedupe hash differs between fixtures.
func sheetPNG(t *testing.T, seed byte) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 300))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(5, 5, color.Gray{Y: seed})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIngestAutoPass(t *testing.T) {
	engine := &fakeEngine{headerTokens: headerTokens(), sheetTokens: sheetTokens()}
	p, st := newTestPipeline(t, engine)

	rec, created, err := p.Ingest(context.Background(), sheetPNG(t, 1), "")
	require.NoError(t, err)
	require.True(t, created)

	assert.Equal(t, model.StatusAutoPass, rec.Status)
	assert.Equal(t, 1, rec.Revision)
	assert.Empty(t, rec.Discrepancies)

	assert.Equal(t, "12345", rec.Lot)
	assert.Equal(t, "名古屋", rec.Venue)
	assert.Equal(t, "GRX130-6794224", rec.Chassis)
	assert.Equal(t, 7496, rec.MileageKM)
	assert.InDelta(t, 4.5, rec.ScoreNumeric, 0.001)
	assert.Equal(t, 1234000, rec.PriceYen)
	require.NotNil(t, rec.AuctionDate)
	assert.Equal(t, 2024, rec.AuctionDate.Year())

	stored, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoPass, stored.Status)
	assert.Equal(t, model.SourceMerged, stored.Reconciled[model.FieldMileage].Source)
}

func TestIngestDuplicate(t *testing.T) {
	engine := &fakeEngine{headerTokens: headerTokens(), sheetTokens: sheetTokens()}
	p, _ := newTestPipeline(t, engine)
	data := sheetPNG(t, 2)

	first, created, err := p.Ingest(context.Background(), data, "")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := p.Ingest(context.Background(), data, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestIngestRejectsGarbage(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEngine{})

	rec, created, err := p.Ingest(context.Background(), []byte("not an image"), "")
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.False(t, created)

	ie := imaging.AsImageError(err)
	require.NotNil(t, ie)
	assert.Equal(t, imaging.ErrInvalidFormat, ie.Kind)
}

func TestIngestHeaderOCRFailure(t *testing.T) {
	engine := &fakeEngine{headerErr: eris.New("engine exploded"), sheetTokens: sheetTokens()}
	p, st := newTestPipeline(t, engine)

	rec, created, err := p.Ingest(context.Background(), sheetPNG(t, 3), "")
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.True(t, created)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.FailureReason)

	stored, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
}

func TestIngestHeaderTableNotFound(t *testing.T) {
	engine := &fakeEngine{
		headerTokens: []ocr.Token{tok("random", 0.9, 10, 10), tok("noise", 0.9, 100, 10)},
		sheetTokens:  sheetTokens(),
	}
	p, _ := newTestPipeline(t, engine)

	rec, _, err := p.Ingest(context.Background(), sheetPNG(t, 4), "")
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, "header table not found", rec.FailureReason)
}

func TestIngestSheetFailureHeaderOnly(t *testing.T) {
	engine := &fakeEngine{headerTokens: headerTokens(), sheetErr: eris.New("sheet unreadable")}
	p, _ := newTestPipeline(t, engine)

	rec, created, err := p.Ingest(context.Background(), sheetPNG(t, 5), "")
	require.NoError(t, err)
	require.True(t, created)

	// Chassis only exists on the sheet, so the record lands in review
	// instead of failing outright.
	assert.Equal(t, model.StatusNeedsReview, rec.Status)
	assert.Empty(t, rec.SheetFields)
	assert.Equal(t, "12345", rec.Lot)
	assert.NotEmpty(t, rec.ReviewReasons)
}

func TestProcessCancelledContextMarksFailed(t *testing.T) {
	engine := &fakeEngine{headerTokens: headerTokens(), sheetTokens: sheetTokens()}
	p, st := newTestPipeline(t, engine)

	data := sheetPNG(t, 9)
	rec, created, err := p.Register(context.Background(), data, "")
	require.NoError(t, err)
	require.True(t, created)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, p.Process(ctx, rec, data))

	// The failure write runs detached from the dead context, so the
	// record does not linger in processing for the watchdog.
	got, err := st.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "preprocess")
}

func TestReprocess(t *testing.T) {
	engine := &fakeEngine{headerTokens: headerTokens(), sheetTokens: sheetTokens()}
	p, st := newTestPipeline(t, engine)

	first, _, err := p.Ingest(context.Background(), sheetPNG(t, 6), "")
	require.NoError(t, err)

	second, err := p.Reprocess(context.Background(), first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.SourceHash, second.SourceHash)
	assert.Equal(t, 2, second.Revision)
	assert.Equal(t, model.StatusAutoPass, second.Status)

	latest, err := st.FindBySourceHash(context.Background(), first.SourceHash)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	// The prior revision is untouched.
	prev, err := st.GetRecord(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prev.Revision)
	assert.Equal(t, model.StatusAutoPass, prev.Status)
}

func TestReprocessUnknownRecord(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEngine{})

	_, err := p.Reprocess(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestRunnerRunBatch(t *testing.T) {
	engine := &fakeEngine{headerTokens: headerTokens(), sheetTokens: sheetTokens()}
	p, _ := newTestPipeline(t, engine)
	r := NewRunner(p, 1)

	good := sheetPNG(t, 7)
	jobs := []Job{
		{Name: "a.png", Data: good},
		{Name: "a-copy.png", Data: good},
		{Name: "broken.png", Data: []byte("garbage")},
	}
	result, err := r.RunBatch(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Failed)
}

func TestNewWatchdogDefaults(t *testing.T) {
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	w := NewWatchdog(st, config.IngestConfig{})
	assert.Equal(t, "1m0s", w.interval.String())
	assert.Equal(t, "10m0s", w.maxAge.String())
}

// Package pipeline orchestrates the per-sheet extraction flow: preprocess,
// parallel header and sheet OCR, reconciliation, persistence.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/auction-ocr/internal/config"
	"github.com/sells-group/auction-ocr/internal/extract"
	"github.com/sells-group/auction-ocr/internal/imaging"
	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/ocr"
	"github.com/sells-group/auction-ocr/internal/reconcile"
	"github.com/sells-group/auction-ocr/internal/store"
)

// Pipeline processes one auction sheet at a time. Safe for concurrent use.
type Pipeline struct {
	cfg    *config.Config
	store  store.Store
	engine ocr.Engine
	header *extract.HeaderExtractor
	sheet  *extract.SheetExtractor
	policy reconcile.Policy
}

// New creates a Pipeline with all dependencies. Venue templates are loaded
// once up front.
func New(cfg *config.Config, st store.Store, engine ocr.Engine) (*Pipeline, error) {
	templates, err := extract.LoadTemplates(cfg.Extract.TemplatePath)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:    cfg,
		store:  st,
		engine: engine,
		header: extract.NewHeaderExtractor(templates, cfg.Extract.TemplateMatchFloor),
		sheet:  extract.NewSheetExtractor(cfg.Extract.SheetCeiling),
		policy: reconcile.Policy{
			ConfidenceFloor:    cfg.Reconcile.ConfidenceFloor,
			MileageToleranceKM: cfg.Reconcile.MileageToleranceKM,
			ScoreTolerance:     cfg.Reconcile.ScoreTolerance,
		},
	}, nil
}

// HashSource returns the dedupe key for a raw upload.
func HashSource(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ingest registers a new sheet image and runs extraction on it. When the
// same image was already ingested, the existing record is returned with
// created=false and nothing is reprocessed.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, venueHint string) (rec *model.Record, created bool, err error) {
	rec, created, err = p.Register(ctx, data, venueHint)
	if err != nil || !created {
		return rec, created, err
	}
	if err := p.Process(ctx, rec, data); err != nil {
		// The record carries its failure state; the caller still gets it.
		return rec, true, err
	}
	return rec, true, nil
}

// Register validates and stores a new upload, creating its record in
// processing. Extraction is left to the caller, so a server can accept
// the upload and run Process in the background.
func (p *Pipeline) Register(ctx context.Context, data []byte, venueHint string) (rec *model.Record, created bool, err error) {
	if err := imaging.Sniff(data, p.cfg.Ingest.MaxSizeMB*1024*1024); err != nil {
		return nil, false, err
	}

	hash := HashSource(data)
	existing, err := p.store.FindBySourceHash(ctx, hash)
	if err == nil {
		return existing, false, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	if err := p.store.SaveSource(ctx, hash, data); err != nil {
		return nil, false, err
	}

	rec = &model.Record{
		ID:         uuid.New().String(),
		Revision:   1,
		SourceHash: hash,
		VenueHint:  venueHint,
		Status:     model.StatusProcessing,
	}
	if err := p.store.CreateRecord(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Reprocess runs extraction again on a stored source image, producing the
// next revision of the record. The prior revision keeps its state.
func (p *Pipeline) Reprocess(ctx context.Context, id string) (*model.Record, error) {
	prev, err := p.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := p.store.GetSource(ctx, prev.SourceHash)
	if err != nil {
		return nil, err
	}

	latest, err := p.store.FindBySourceHash(ctx, prev.SourceHash)
	if err != nil {
		return nil, err
	}

	rec := &model.Record{
		ID:         uuid.New().String(),
		Revision:   latest.Revision + 1,
		SourceHash: prev.SourceHash,
		VenueHint:  prev.VenueHint,
		Status:     model.StatusProcessing,
	}
	if err := p.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := p.Process(ctx, rec, data); err != nil {
		return rec, err
	}
	return rec, nil
}

// Process runs extraction for a record already in processing. On any
// terminal error the record is marked failed before returning.
func (p *Pipeline) Process(ctx context.Context, rec *model.Record, data []byte) error {
	log := zap.L().With(zap.String("record", rec.ID), zap.Int("revision", rec.Revision))
	start := time.Now()

	canonical, regions, err := p.preprocess(ctx, data)
	if err != nil {
		p.fail(ctx, rec, log, "preprocess", err)
		return err
	}

	headerRes, sheetFields, err := p.extractRegions(ctx, rec, canonical, regions)
	if err != nil {
		p.fail(ctx, rec, log, "extract", err)
		return err
	}

	outcome := reconcile.Reconcile(headerRes.Fields, sheetFields, p.policy)

	rec.HeaderFields = headerRes.Fields
	rec.SheetFields = sheetFields
	rec.Reconciled = outcome.Fields
	rec.Discrepancies = outcome.Discrepancies
	rec.ReviewReasons = outcome.ReviewReasons
	rec.OverallConfidence = reconcile.OverallConfidence(outcome.Fields)
	denormalize(rec, headerRes.Venue)

	if err := p.store.SaveExtraction(ctx, rec, outcome.Status); err != nil {
		return eris.Wrapf(err, "pipeline: persist record %s", rec.ID)
	}

	log.Info("pipeline: record processed",
		zap.String("status", string(outcome.Status)),
		zap.Int("discrepancies", len(outcome.Discrepancies)),
		zap.Float64("confidence", rec.OverallConfidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// preprocess normalizes the bitmap and splits it into header and sheet
// regions. The image work is CPU bound and cannot be interrupted, so the
// stage deadline is enforced around it and a timed-out pass is abandoned
// to its goroutine.
func (p *Pipeline) preprocess(ctx context.Context, data []byte) (*imaging.Canonical, imaging.Regions, error) {
	ctx, cancel := context.WithTimeout(ctx,
		config.StageTimeout(p.cfg.Pipeline.PreprocessTimeoutSecs, 30*time.Second))
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, imaging.Regions{}, eris.Wrap(err, "pipeline: preprocess")
	}

	type result struct {
		canonical *imaging.Canonical
		regions   imaging.Regions
		err       error
	}
	done := make(chan result, 1)
	go func() {
		canonical, err := imaging.Preprocess(data, imaging.Options{
			MaxBytes:     p.cfg.Ingest.MaxSizeMB * 1024 * 1024,
			MinHeight:    p.cfg.Imaging.MinHeight,
			MaxDeskewDeg: p.cfg.Imaging.MaxDeskewDeg,
		})
		if err != nil {
			done <- result{err: err}
			return
		}
		regions := imaging.SplitRegions(canonical, imaging.RegionOptions{
			HeaderBandRatio: p.cfg.Imaging.HeaderBandRatio,
			SheetWidthRatio: p.cfg.Imaging.SheetWidthRatio,
		})
		done <- result{canonical: canonical, regions: regions}
	}()

	select {
	case r := <-done:
		return r.canonical, r.regions, r.err
	case <-ctx.Done():
		return nil, imaging.Regions{}, eris.Wrap(ctx.Err(), "pipeline: preprocess")
	}
}

// extractRegions OCRs the header table and sheet body concurrently. A
// header failure is terminal and cancels the sheet pass; a sheet failure
// only costs its fields.
func (p *Pipeline) extractRegions(ctx context.Context, rec *model.Record, canonical *imaging.Canonical, regions imaging.Regions) (*extract.HeaderResult, map[string]model.FieldValue, error) {
	var (
		headerRes   *extract.HeaderResult
		sheetFields map[string]model.FieldValue
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hctx, cancel := context.WithTimeout(gCtx,
			config.StageTimeout(p.cfg.Pipeline.HeaderTimeoutSecs, time.Minute))
		defer cancel()

		res, err := p.engine.Recognize(hctx, canonical.Gray, regions.Header)
		if err != nil {
			return eris.Wrap(err, "pipeline: header ocr")
		}
		headerRes, err = p.header.Extract(res.Tokens, rec.VenueHint)
		if err != nil {
			return eris.Wrap(err, "pipeline: header extract")
		}
		return nil
	})

	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gCtx,
			config.StageTimeout(p.cfg.Pipeline.SheetTimeoutSecs, time.Minute))
		defer cancel()

		res, err := p.engine.Recognize(sctx, canonical.Gray, regions.Sheet)
		if err != nil {
			// Cancellation here means the header side already failed and
			// the whole pass is being torn down.
			if gCtx.Err() == nil {
				zap.L().Warn("pipeline: sheet ocr failed, continuing header-only",
					zap.String("record", rec.ID), zap.Error(err))
			}
			return nil
		}
		sheetFields = p.sheet.Extract(res.Tokens)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return headerRes, sheetFields, nil
}

// fail marks the record failed, logging rather than propagating the
// bookkeeping error to keep the original failure primary.
func (p *Pipeline) fail(ctx context.Context, rec *model.Record, log *zap.Logger, stage string, cause error) {
	reason := stage + ": " + eris.Cause(cause).Error()
	if ie := imaging.AsImageError(cause); ie != nil {
		reason = stage + ": " + string(ie.Kind)
	}
	if eris.Is(cause, extract.ErrTableNotFound) {
		reason = "header table not found"
	}

	log.Warn("pipeline: record failed", zap.String("stage", stage), zap.Error(cause))
	// The parent context may be the very thing that failed the pass; the
	// bookkeeping write must still land or the record sits in processing
	// until the watchdog finds it.
	if err := p.store.MarkFailed(context.WithoutCancel(ctx), rec.ID, reason, model.ActorPipeline); err != nil {
		log.Error("pipeline: mark failed", zap.Error(err))
	} else {
		rec.Status = model.StatusFailed
		rec.FailureReason = reason
	}
}

// denormalize fills the summary columns from the reconciled fields.
func denormalize(rec *model.Record, venue string) {
	get := func(field string) string {
		return rec.Reconciled[field].Value
	}

	rec.Lot = get(model.FieldLot)
	rec.Venue = get(model.FieldVenue)
	if rec.Venue == "" {
		rec.Venue = venue
	}
	rec.MakeModel = get(model.FieldMakeModel)
	rec.ModelCode = get(model.FieldModelCode)
	rec.Chassis = get(model.FieldChassis)

	if d, ok := extract.ParseAuctionDate(get(model.FieldAuctionDate)); ok {
		rec.AuctionDate = &d
	}
	if m, ok := extract.ParseMileageHeader(get(model.FieldMileage)); ok {
		rec.MileageKM = m.KM
	}
	if s, ok := extract.ParseScore(get(model.FieldScore)); ok && s.IsNum {
		rec.ScoreNumeric = s.Numeric
	}
	if yen, ok := extract.ParseYen(get(model.FieldFinalBid)); ok {
		rec.PriceYen = yen
	}
}

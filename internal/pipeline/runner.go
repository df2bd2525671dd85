package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/auction-ocr/internal/config"
	"github.com/sells-group/auction-ocr/internal/store"
)

// Job is one sheet image queued for ingestion.
type Job struct {
	Name      string
	Data      []byte
	VenueHint string
}

// BatchResult summarizes one batch ingest pass.
type BatchResult struct {
	Processed  int
	Duplicates int
	Failed     int
}

// Runner fans a batch of jobs across a bounded worker pool.
type Runner struct {
	pipeline *Pipeline
	limit    int
}

// NewRunner creates a Runner. limit bounds concurrent extractions; values
// below one fall back to serial processing.
func NewRunner(p *Pipeline, limit int) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{pipeline: p, limit: limit}
}

// RunBatch ingests all jobs, bounded by the concurrency limit. Individual
// job failures are counted, not propagated; only context cancellation
// aborts the batch.
func (r *Runner) RunBatch(ctx context.Context, jobs []Job) (BatchResult, error) {
	var (
		mu     sync.Mutex
		result BatchResult
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for _, job := range jobs {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			rec, created, err := r.pipeline.Ingest(gCtx, job.Data, job.VenueHint)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if rec == nil {
					zap.L().Warn("runner: job rejected",
						zap.String("name", job.Name), zap.Error(err))
				}
				result.Failed++
			case !created:
				zap.L().Debug("runner: duplicate sheet",
					zap.String("name", job.Name), zap.String("record", rec.ID))
				result.Duplicates++
			default:
				result.Processed++
			}
			return nil
		})
	}

	err := g.Wait()
	return result, err
}

// Watchdog periodically fails records stuck in processing, covering
// crashes that left work half-done.
type Watchdog struct {
	store    store.Store
	interval time.Duration
	maxAge   time.Duration
}

// NewWatchdog builds a watchdog from the ingest config.
func NewWatchdog(st store.Store, cfg config.IngestConfig) *Watchdog {
	return &Watchdog{
		store:    st,
		interval: config.StageTimeout(cfg.WatchdogSecs, time.Minute),
		maxAge:   config.StageTimeout(cfg.StuckAfterSecs, 10*time.Minute),
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (w *Watchdog) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "pipeline.watchdog"))
	log.Info("starting watchdog",
		zap.Duration("interval", w.interval),
		zap.Duration("max_age", w.maxAge),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("watchdog stopped")
			return
		case <-ticker.C:
			n, err := w.store.SweepStuck(ctx, w.maxAge)
			if err != nil {
				log.Error("watchdog sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Warn("watchdog failed stuck records", zap.Int("count", n))
			}
		}
	}
}

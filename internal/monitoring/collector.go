package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/store"
)

// MetricsSnapshot holds a point-in-time view of extraction health.
type MetricsSnapshot struct {
	Total        int     `json:"total"`
	Processing   int     `json:"processing"`
	AutoPass     int     `json:"auto_pass"`
	NeedsReview  int     `json:"needs_review"`
	Verified     int     `json:"verified"`
	Failed       int     `json:"failed"`
	AutoPassRate float64 `json:"auto_pass_rate"`
	FailRate     float64 `json:"fail_rate"`
	ReviewDepth  int     `json:"review_depth"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatsQuerier abstracts the store method the collector depends on.
type StatsQuerier interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store StatsQuerier
}

// NewCollector creates a new metrics collector.
func NewCollector(st StatsQuerier) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of extraction metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect stats")
	}

	snap := &MetricsSnapshot{
		Total:       stats.Total,
		Processing:  stats.ByStatus[model.StatusProcessing],
		AutoPass:    stats.ByStatus[model.StatusAutoPass],
		NeedsReview: stats.ByStatus[model.StatusNeedsReview],
		Verified:    stats.ByStatus[model.StatusVerified],
		Failed:      stats.ByStatus[model.StatusFailed],
		ReviewDepth: stats.ReviewDepth,
		CollectedAt: time.Now().UTC(),
	}

	decided := snap.AutoPass + snap.NeedsReview + snap.Verified + snap.Failed
	if decided > 0 {
		snap.AutoPassRate = float64(snap.AutoPass) / float64(decided)
		snap.FailRate = float64(snap.Failed) / float64(decided)
	}
	return snap, nil
}

package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ocr/internal/model"
)

// Sentinel errors shared by both backends. Callers match with eris.Is.
var (
	// ErrNotFound is returned when no record matches the given id or hash.
	ErrNotFound = eris.New("store: record not found")
	// ErrInvalidTransition is returned when a status change violates the
	// forward-only lifecycle, including the case where the record moved
	// concurrently and is no longer in the expected state.
	ErrInvalidTransition = eris.New("store: invalid status transition")
	// ErrDuplicateSource is returned when a record with the same source
	// hash and revision already exists.
	ErrDuplicateSource = eris.New("store: duplicate source document")
)

// RecordFilter specifies criteria for listing records. Search matches the
// width-folded text index over lot, venue, make/model, and chassis.
type RecordFilter struct {
	Status         model.Status `json:"status,omitempty"`
	Venue          string       `json:"venue,omitempty"`
	DateFrom       time.Time    `json:"date_from,omitempty"`
	DateTo         time.Time    `json:"date_to,omitempty"`
	ScoreMin       float64      `json:"score_min,omitempty"`
	MileageMax     int          `json:"mileage_max,omitempty"`
	Chassis        string       `json:"chassis_no,omitempty"`
	Lot            string       `json:"lot_no,omitempty"`
	Search         string       `json:"search,omitempty"`
	HasDiscrepancy *bool        `json:"has_discrepancy,omitempty"`
	Limit          int          `json:"limit,omitempty"`
	Offset         int          `json:"offset,omitempty"`
}

// Stats aggregates record counts for the stats endpoint and CLI.
type Stats struct {
	Total        int                  `json:"total"`
	ByStatus     map[model.Status]int `json:"by_status"`
	AutoPassRate float64              `json:"auto_pass_rate"`
	ReviewDepth  int                  `json:"review_depth"`
}

// Store defines persistence for auction records.
type Store interface {
	// CreateRecord inserts a new record in its initial status.
	CreateRecord(ctx context.Context, rec *model.Record) error
	// GetRecord fetches one record by id, ErrNotFound if absent.
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	// FindBySourceHash returns the latest revision for a source document,
	// ErrNotFound if the document was never seen.
	FindBySourceHash(ctx context.Context, hash string) (*model.Record, error)
	// ListRecords returns summaries newest first.
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.Summary, error)

	// SaveExtraction writes the extraction and reconciliation outcome and
	// moves the record out of processing in the same statement. The write
	// is guarded on the current status so a concurrent transition loses.
	SaveExtraction(ctx context.Context, rec *model.Record, to model.Status) error
	// Transition moves a record from one status to another, appending to
	// its history. ErrInvalidTransition when the record is not in from or
	// the lifecycle forbids the move.
	Transition(ctx context.Context, id string, from, to model.Status, actor string) error
	// MarkFailed force-fails a record from any non-terminal status.
	MarkFailed(ctx context.Context, id, reason, actor string) error
	// OverrideField replaces one reconciled value on a record awaiting
	// review, appending an audit entry. The corrected field carries full
	// confidence with source "override". ErrInvalidTransition when the
	// record is not in needs_review.
	OverrideField(ctx context.Context, id, field, newValue, reason, actor string) (*model.Record, error)
	// ListOverrides returns a record's override audit trail, oldest first.
	ListOverrides(ctx context.Context, id string) ([]model.Override, error)

	// SaveSource stores the raw uploaded image keyed by its hash so a
	// record can be reprocessed later. Saving the same hash twice is a
	// no-op.
	SaveSource(ctx context.Context, hash string, data []byte) error
	// GetSource returns the raw image for a hash, ErrNotFound if absent.
	GetSource(ctx context.Context, hash string) ([]byte, error)

	// SweepStuck fails records that have sat in processing longer than
	// maxAge. Returns how many were swept.
	SweepStuck(ctx context.Context, maxAge time.Duration) (int, error)
	// Stats aggregates counts by status.
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

package model

import "time"

// Field keys produced by the extractors. Header and sheet extractors write
// disjoint maps keyed by these names; the reconciler joins them.
const (
	FieldLot          = "lot_no"
	FieldVenue        = "auction_venue"
	FieldVenueRound   = "auction_venue_round"
	FieldAuctionDate  = "auction_date"
	FieldMakeModel    = "make_model"
	FieldGrade        = "grade"
	FieldModelYear    = "model_year"
	FieldModelCode    = "model_code"
	FieldShiftEngine  = "shift_engine"
	FieldMileage      = "mileage"
	FieldInspection   = "inspection"
	FieldColor        = "color"
	FieldResult       = "result"
	FieldScore        = "score"
	FieldStartingBid  = "starting_bid"
	FieldFinalBid     = "final_bid"
	FieldChassis      = "chassis_no"
	FieldNotes        = "notes"
	FieldEquipment    = "equipment_codes"
	FieldTransmission = "transmission"
	FieldEngineCC     = "engine_cc"
)

// P0Fields are required for automatic pass-through without human review.
var P0Fields = []string{
	FieldLot,
	FieldVenue,
	FieldScore,
	FieldFinalBid,
	FieldChassis,
	FieldMileage,
}

// FieldValue is a single extracted field with its OCR confidence in [0,1].
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Raw        string  `json:"raw,omitempty"`
}

// FieldSource identifies which extractor produced a reconciled value.
type FieldSource string

const (
	SourceHeader FieldSource = "header"
	SourceSheet  FieldSource = "sheet"
	SourceMerged FieldSource = "merged"
)

// ReconciledField is the merged view of one field after reconciliation.
type ReconciledField struct {
	Value       string      `json:"value"`
	Confidence  float64     `json:"confidence"`
	Source      FieldSource `json:"source"`
	Discrepancy bool        `json:"discrepancy"`
}

// Severity grades how far apart the two sources were.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Discrepancy records a detected mismatch between header- and sheet-derived
// values for the same logical field. Derived only; never hand-edited.
type Discrepancy struct {
	Field       string   `json:"field"`
	HeaderValue string   `json:"header_value"`
	SheetValue  string   `json:"sheet_value"`
	Severity    Severity `json:"severity"`
}

// StatusEvent is one entry in a record's append-only status history.
type StatusEvent struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
}

// ActorPipeline is the actor recorded for machine-driven transitions.
const ActorPipeline = "pipeline"

// Record is one auction sheet's extracted state. HeaderFields and
// SheetFields are write-once per revision; reprocessing creates a new
// revision rather than mutating in place.
type Record struct {
	ID         string `json:"id"`
	Revision   int    `json:"revision"`
	SourceHash string `json:"source_hash"`
	VenueHint  string `json:"venue_hint,omitempty"`

	HeaderFields map[string]FieldValue      `json:"header_fields,omitempty"`
	SheetFields  map[string]FieldValue      `json:"sheet_fields,omitempty"`
	Reconciled   map[string]ReconciledField `json:"reconciled,omitempty"`

	Status        Status        `json:"status"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	StatusHistory []StatusEvent `json:"status_history"`

	OverallConfidence float64  `json:"overall_confidence"`
	FailureReason     string   `json:"failure_reason,omitempty"`
	ReviewReasons     []string `json:"review_reasons,omitempty"`

	// Denormalized summary columns for list filters and export.
	Lot          string     `json:"lot_no,omitempty"`
	Venue        string     `json:"auction_venue,omitempty"`
	AuctionDate  *time.Time `json:"auction_date,omitempty"`
	MakeModel    string     `json:"make_model,omitempty"`
	ModelCode    string     `json:"model_code,omitempty"`
	Chassis      string     `json:"chassis_no,omitempty"`
	MileageKM    int        `json:"mileage_km,omitempty"`
	ScoreNumeric float64    `json:"score_numeric,omitempty"`
	PriceYen     int        `json:"final_bid_yen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the list/export projection of a record.
type Summary struct {
	ID           string     `json:"id"`
	Lot          string     `json:"lot_no,omitempty"`
	Venue        string     `json:"auction_venue,omitempty"`
	AuctionDate  *time.Time `json:"auction_date,omitempty"`
	MakeModel    string     `json:"make_model,omitempty"`
	ModelCode    string     `json:"model_code,omitempty"`
	Chassis      string     `json:"chassis_no,omitempty"`
	MileageKM    int        `json:"mileage_km,omitempty"`
	ScoreNumeric float64    `json:"score_numeric,omitempty"`
	PriceYen     int        `json:"final_bid_yen,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Summarize projects the record onto its list representation.
func (r *Record) Summarize() Summary {
	return Summary{
		ID:           r.ID,
		Lot:          r.Lot,
		Venue:        r.Venue,
		AuctionDate:  r.AuctionDate,
		MakeModel:    r.MakeModel,
		ModelCode:    r.ModelCode,
		Chassis:      r.Chassis,
		MileageKM:    r.MileageKM,
		ScoreNumeric: r.ScoreNumeric,
		PriceYen:     r.PriceYen,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
	}
}

// HasDiscrepancyFlag reports whether any reconciled field carries a
// discrepancy flag. Always equivalent to len(Discrepancies) > 0.
func (r *Record) HasDiscrepancyFlag() bool {
	for _, f := range r.Reconciled {
		if f.Discrepancy {
			return true
		}
	}
	return false
}

package model

import "time"

// SourceOverride marks a reconciled value corrected by a reviewer. The
// corrected value carries full confidence.
const SourceOverride FieldSource = "override"

// Override is one reviewer correction to a reconciled field. The record
// keeps the corrected value; the override keeps the audit trail of who
// changed what and why.
type Override struct {
	ID        string    `json:"id"`
	RecordID  string    `json:"record_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

var knownFields = map[string]struct{}{
	FieldLot:          {},
	FieldVenue:        {},
	FieldVenueRound:   {},
	FieldAuctionDate:  {},
	FieldMakeModel:    {},
	FieldGrade:        {},
	FieldModelYear:    {},
	FieldModelCode:    {},
	FieldShiftEngine:  {},
	FieldMileage:      {},
	FieldInspection:   {},
	FieldColor:        {},
	FieldResult:       {},
	FieldScore:        {},
	FieldStartingBid:  {},
	FieldFinalBid:     {},
	FieldChassis:      {},
	FieldNotes:        {},
	FieldEquipment:    {},
	FieldTransmission: {},
	FieldEngineCC:     {},
}

// KnownField reports whether name is one of the extractor field keys. A
// reviewer may override a field the extraction missed, but not invent
// field names.
func KnownField(name string) bool {
	_, ok := knownFields[name]
	return ok
}

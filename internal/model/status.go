package model

// Status is the verification state of a record.
type Status string

const (
	// StatusProcessing is the initial state while the pipeline runs.
	StatusProcessing Status = "processing"
	// StatusAutoPass means all P0 fields cleared the confidence floor with
	// zero discrepancies; no human review required.
	StatusAutoPass Status = "auto_pass"
	// StatusNeedsReview routes the record to the human review queue.
	StatusNeedsReview Status = "needs_review"
	// StatusVerified is terminal; set only by a human review action.
	StatusVerified Status = "verified"
	// StatusFailed is terminal; set on irrecoverable pipeline errors.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusAutoPass, StatusNeedsReview, StatusVerified, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition out of s is ever legal.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

// CanTransition reports whether a record may move from one status to another.
// Transitions run forward only, with two exceptions: needs_review → verified
// (human resolution) and any non-terminal state → failed. Nothing leaves
// verified or failed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	switch from {
	case StatusProcessing:
		return to == StatusAutoPass || to == StatusNeedsReview
	case StatusNeedsReview:
		return to == StatusVerified
	}
	return false
}

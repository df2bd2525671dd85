package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"processing to auto_pass", StatusProcessing, StatusAutoPass, true},
		{"processing to needs_review", StatusProcessing, StatusNeedsReview, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to verified skips review", StatusProcessing, StatusVerified, false},
		{"needs_review to verified", StatusNeedsReview, StatusVerified, true},
		{"needs_review to failed", StatusNeedsReview, StatusFailed, true},
		{"needs_review to auto_pass", StatusNeedsReview, StatusAutoPass, false},
		{"auto_pass to failed", StatusAutoPass, StatusFailed, true},
		{"auto_pass to verified", StatusAutoPass, StatusVerified, false},
		{"verified is terminal", StatusVerified, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusProcessing, false},
		{"no self transition", StatusProcessing, StatusProcessing, false},
		{"unknown status", Status("bogus"), StatusFailed, false},
		{"unknown target", StatusProcessing, Status("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusVerified.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusAutoPass.Terminal())
	assert.False(t, StatusNeedsReview.Terminal())
}

func TestHasDiscrepancyFlag(t *testing.T) {
	r := &Record{
		Reconciled: map[string]ReconciledField{
			"mileage": {Value: "8000", Source: SourceHeader, Discrepancy: true},
			"lot_no":  {Value: "70345", Source: SourceMerged},
		},
	}
	assert.True(t, r.HasDiscrepancyFlag())

	r.Reconciled["mileage"] = ReconciledField{Value: "8000", Source: SourceMerged}
	assert.False(t, r.HasDiscrepancyFlag())
}

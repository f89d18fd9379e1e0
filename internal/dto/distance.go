package dto

import "github.com/noah-isme/instructor-dispatch-api/internal/models"

// WithinQuery bounds a distance range filter in kilometres.
type WithinQuery struct {
	MinKm float64 `form:"minKm" json:"minKm"`
	MaxKm float64 `form:"maxKm" json:"maxKm"`
}

// BackfillRequest asks the provider to compute missing distances. Either Pairs or a
// date range must be given; a range derives pairs from the open candidates.
type BackfillRequest struct {
	Pairs []models.DistancePair `json:"pairs" validate:"omitempty,dive"`
	Start string                `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string                `json:"end" validate:"omitempty,datetime=2006-01-02"`
	Limit int                   `json:"limit"`
}

// BackfillResult reports what a backfill achieved. Unknown pairs failed lookup
// and stay fail-open; Unresolved pairs were not attempted.
type BackfillResult struct {
	Requested      int                   `json:"requested"`
	Computed       int                   `json:"computed"`
	AlreadyCached  int                   `json:"alreadyCached"`
	Unknown        []models.DistancePair `json:"unknown,omitempty"`
	Unresolved     []models.DistancePair `json:"unresolved,omitempty"`
	QuotaExhausted bool                  `json:"quotaExhausted"`
}

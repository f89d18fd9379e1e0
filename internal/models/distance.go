package models

import "time"

// DistanceRecord is a cached travel estimate between an instructor and a unit.
type DistanceRecord struct {
	InstructorID    string    `db:"instructor_id" json:"instructorId"`
	UnitID          string    `db:"unit_id" json:"unitId"`
	DistanceMeters  int       `db:"distance_meters" json:"distanceMeters"`
	DurationSeconds int       `db:"duration_seconds" json:"durationSeconds"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Km returns the distance in kilometres.
func (d DistanceRecord) Km() float64 {
	return float64(d.DistanceMeters) / 1000
}

// DistancePair identifies an instructor/unit combination.
type DistancePair struct {
	InstructorID string `json:"instructorId" validate:"required"`
	UnitID       string `json:"unitId" validate:"required"`
}

// Key renders the pair as a map key.
func (p DistancePair) Key() string {
	return p.InstructorID + "|" + p.UnitID
}

// DailyUsage reports the routing quota consumption for a calendar day.
type DailyUsage struct {
	Day       string `json:"day"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

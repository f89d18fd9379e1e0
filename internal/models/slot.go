package models

import "time"

// Slot is a (unit, training location, date) triple that needs RequiredCount instructors.
type Slot struct {
	ID            string    `db:"id" json:"id"`
	UnitID        string    `db:"unit_id" json:"unitId"`
	LocationName  string    `db:"location_name" json:"locationName"`
	Date          string    `db:"date" json:"date"`
	RequiredCount int       `db:"required_count" json:"requiredCount"`
	AllowOverfill bool      `db:"allow_overfill" json:"allowOverfill"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// OpenSlot is a slot together with its live assignment count.
type OpenSlot struct {
	Slot
	LiveCount int `db:"live_count" json:"liveCount"`
}

// Remaining returns how many more instructors the slot needs.
func (s OpenSlot) Remaining() int {
	if r := s.RequiredCount - s.LiveCount; r > 0 {
		return r
	}
	return 0
}

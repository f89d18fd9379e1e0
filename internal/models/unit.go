package models

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx/types"
)

// Unit is an organizational unit that runs training sessions.
type Unit struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Latitude       float64        `db:"latitude" json:"latitude"`
	Longitude      float64        `db:"longitude" json:"longitude"`
	Address        string         `db:"address" json:"address,omitempty"`
	StaffLocked    bool           `db:"staff_locked" json:"staffLocked"`
	CategoryQuotas types.JSONText `db:"category_quotas" json:"categoryQuotas"`
}

// CategoryQuotas maps a category to the advisory minimum headcount per slot.
type CategoryQuotas map[InstructorCategory]int

// Quotas decodes the unit's quota hints. Unknown categories and non-positive minimums are dropped.
func (u Unit) Quotas() (CategoryQuotas, error) {
	out := CategoryQuotas{}
	if len(u.CategoryQuotas) == 0 || string(u.CategoryQuotas) == "null" {
		return out, nil
	}
	raw := map[string]int{}
	if err := json.Unmarshal(u.CategoryQuotas, &raw); err != nil {
		return nil, fmt.Errorf("decode category quotas for unit %s: %w", u.ID, err)
	}
	for k, v := range raw {
		cat := InstructorCategory(k)
		if cat.Valid() && v > 0 {
			out[cat] = v
		}
	}
	return out, nil
}

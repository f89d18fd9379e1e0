package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// SlotRepository reads the unit schedule slots.
type SlotRepository struct {
	base
}

// NewSlotRepository constructs the repository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{base{db: db}}
}

const openSlotSelect = `
SELECT s.id, s.unit_id, s.location_name, s.date::text AS date, s.required_count, s.allow_overfill, s.created_at,
       COUNT(a.id) AS live_count
FROM slots s
LEFT JOIN assignments a ON a.slot_id = s.id AND a.state IN ` + liveStatesSQL

// ListOpen returns slots in the range that still need instructors, ordered by date, unit and id.
func (r *SlotRepository) ListOpen(ctx context.Context, exec sqlx.ExtContext, start, end string) ([]models.OpenSlot, error) {
	query := openSlotSelect + `
WHERE s.date BETWEEN $1 AND $2
GROUP BY s.id
HAVING COUNT(a.id) < s.required_count
ORDER BY s.date ASC, s.unit_id ASC, s.id ASC`
	slots := []models.OpenSlot{}
	if err := sqlx.SelectContext(ctx, r.exec(exec), &slots, query, start, end); err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

// Get returns a slot with its live count or sql.ErrNoRows.
func (r *SlotRepository) Get(ctx context.Context, exec sqlx.ExtContext, slotID string) (*models.OpenSlot, error) {
	query := openSlotSelect + `
WHERE s.id = $1
GROUP BY s.id`
	var slot models.OpenSlot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, slotID); err != nil {
		return nil, err
	}
	return &slot, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// UnitRepository reads organizational units and owns the staff-lock flag.
type UnitRepository struct {
	base
}

// NewUnitRepository constructs the repository.
func NewUnitRepository(db *sqlx.DB) *UnitRepository {
	return &UnitRepository{base{db: db}}
}

const unitColumns = `id, name, latitude, longitude, address, staff_locked, category_quotas`

// Get returns the unit or sql.ErrNoRows.
func (r *UnitRepository) Get(ctx context.Context, exec sqlx.ExtContext, unitID string) (*models.Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE id = $1`
	var unit models.Unit
	if err := sqlx.GetContext(ctx, r.exec(exec), &unit, query, unitID); err != nil {
		return nil, err
	}
	return &unit, nil
}

// ListByIDs returns the units with the given ids ordered by id.
func (r *UnitRepository) ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Unit, error) {
	if len(ids) == 0 {
		return []models.Unit{}, nil
	}
	query := `SELECT ` + unitColumns + ` FROM units WHERE id = ANY($1) ORDER BY id`
	units := []models.Unit{}
	if err := sqlx.SelectContext(ctx, r.exec(exec), &units, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return units, nil
}

// SetStaffLock updates the staff-lock flag. A missing unit yields sql.ErrNoRows.
func (r *UnitRepository) SetStaffLock(ctx context.Context, exec sqlx.ExtContext, unitID string, locked bool) error {
	const query = `UPDATE units SET staff_locked = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, unitID, locked)
	if err != nil {
		return fmt.Errorf("update staff lock: %w", err)
	}
	affected, err := rowsAffected(result, "staff lock")
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

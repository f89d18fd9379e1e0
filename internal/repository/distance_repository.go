package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// DistanceRepository persists cached instructor to unit travel distances.
type DistanceRepository struct {
	base
}

// NewDistanceRepository constructs the repository.
func NewDistanceRepository(db *sqlx.DB) *DistanceRepository {
	return &DistanceRepository{base{db: db}}
}

const distanceColumns = `instructor_id, unit_id, distance_meters, duration_seconds, updated_at`

// Get returns the cached record or sql.ErrNoRows.
func (r *DistanceRepository) Get(ctx context.Context, instructorID, unitID string) (*models.DistanceRecord, error) {
	query := `SELECT ` + distanceColumns + ` FROM distance_records WHERE instructor_id = $1 AND unit_id = $2`
	var record models.DistanceRecord
	if err := sqlx.GetContext(ctx, r.db, &record, query, instructorID, unitID); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListForPairs returns the cached records between any of the instructors and any of the units.
func (r *DistanceRepository) ListForPairs(ctx context.Context, instructorIDs, unitIDs []string) ([]models.DistanceRecord, error) {
	if len(instructorIDs) == 0 || len(unitIDs) == 0 {
		return []models.DistanceRecord{}, nil
	}
	query := `SELECT ` + distanceColumns + ` FROM distance_records
WHERE instructor_id = ANY($1) AND unit_id = ANY($2)`
	var records []models.DistanceRecord
	if err := sqlx.SelectContext(ctx, r.db, &records, query, pq.Array(instructorIDs), pq.Array(unitIDs)); err != nil {
		return nil, fmt.Errorf("list distance records: %w", err)
	}
	return records, nil
}

// UnitsWithin returns unit ids whose distance to the instructor lies in [minMeters, maxMeters].
func (r *DistanceRepository) UnitsWithin(ctx context.Context, instructorID string, minMeters, maxMeters int) ([]string, error) {
	const query = `SELECT unit_id FROM distance_records
WHERE instructor_id = $1 AND distance_meters BETWEEN $2 AND $3
ORDER BY distance_meters ASC, unit_id ASC`
	ids := []string{}
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, instructorID, minMeters, maxMeters); err != nil {
		return nil, fmt.Errorf("list units within range: %w", err)
	}
	return ids, nil
}

// InstructorsWithin returns instructor ids whose distance to the unit lies in [minMeters, maxMeters].
func (r *DistanceRepository) InstructorsWithin(ctx context.Context, unitID string, minMeters, maxMeters int) ([]string, error) {
	const query = `SELECT instructor_id FROM distance_records
WHERE unit_id = $1 AND distance_meters BETWEEN $2 AND $3
ORDER BY distance_meters ASC, instructor_id ASC`
	ids := []string{}
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, unitID, minMeters, maxMeters); err != nil {
		return nil, fmt.Errorf("list instructors within range: %w", err)
	}
	return ids, nil
}

// ExistingPairs reports which of the pairs already have a cached record.
func (r *DistanceRepository) ExistingPairs(ctx context.Context, pairs []models.DistancePair) (map[string]bool, error) {
	existing := make(map[string]bool, len(pairs))
	if len(pairs) == 0 {
		return existing, nil
	}
	instructorIDs := make([]string, len(pairs))
	unitIDs := make([]string, len(pairs))
	for i, p := range pairs {
		instructorIDs[i] = p.InstructorID
		unitIDs[i] = p.UnitID
	}
	const query = `SELECT d.instructor_id, d.unit_id FROM distance_records d
JOIN unnest($1::text[], $2::text[]) AS p(instructor_id, unit_id)
  ON p.instructor_id = d.instructor_id AND p.unit_id = d.unit_id`
	var found []models.DistancePair
	rows, err := r.db.QueryxContext(ctx, query, pq.Array(instructorIDs), pq.Array(unitIDs))
	if err != nil {
		return nil, fmt.Errorf("check cached distance pairs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.DistancePair
		if err := rows.Scan(&p.InstructorID, &p.UnitID); err != nil {
			return nil, fmt.Errorf("scan cached distance pair: %w", err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached distance pairs: %w", err)
	}
	for _, p := range found {
		existing[p.Key()] = true
	}
	return existing, nil
}

// Upsert stores a computed distance.
func (r *DistanceRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, record *models.DistanceRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO distance_records (instructor_id, unit_id, distance_meters, duration_seconds, updated_at)
VALUES (:instructor_id, :unit_id, :distance_meters, :duration_seconds, :updated_at)
ON CONFLICT (instructor_id, unit_id) DO UPDATE
SET distance_meters = EXCLUDED.distance_meters,
    duration_seconds = EXCLUDED.duration_seconds,
    updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, record); err != nil {
		return fmt.Errorf("upsert distance record: %w", err)
	}
	return nil
}

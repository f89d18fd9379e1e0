package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// InstructorRepository reads instructor profiles.
type InstructorRepository struct {
	base
}

// NewInstructorRepository constructs the repository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{base{db: db}}
}

const instructorColumns = `id, name, category, available_dates::text[] AS available_dates, latitude, longitude, address`

// ListAvailable returns instructors with at least one available date in the range.
func (r *InstructorRepository) ListAvailable(ctx context.Context, exec sqlx.ExtContext, start, end string) ([]models.Instructor, error) {
	query := `SELECT ` + instructorColumns + ` FROM instructors i
WHERE EXISTS (SELECT 1 FROM unnest(i.available_dates) AS d WHERE d BETWEEN $1 AND $2)
ORDER BY i.id`
	instructors := []models.Instructor{}
	if err := sqlx.SelectContext(ctx, r.exec(exec), &instructors, query, start, end); err != nil {
		return nil, fmt.Errorf("list available instructors: %w", err)
	}
	return instructors, nil
}

// ListByIDs returns the instructors with the given ids ordered by id.
func (r *InstructorRepository) ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Instructor, error) {
	if len(ids) == 0 {
		return []models.Instructor{}, nil
	}
	query := `SELECT ` + instructorColumns + ` FROM instructors WHERE id = ANY($1) ORDER BY id`
	instructors := []models.Instructor{}
	if err := sqlx.SelectContext(ctx, r.exec(exec), &instructors, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list instructors: %w", err)
	}
	return instructors, nil
}

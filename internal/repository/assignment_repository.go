package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// AssignmentRepository persists assignment records. Rows are never deleted.
type AssignmentRepository struct {
	base
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{base{db: db}}
}

const assignmentColumns = `a.id, a.slot_id, a.instructor_id, a.unit_id, a.date::text AS date, a.state, a.classification,
       a.role, a.message_sent, a.created_by, a.created_at, a.updated_at`

// GetCurrent returns the record holding the pair, falling back to the most recent
// canceled record. sql.ErrNoRows when the pair was never assigned.
func (r *AssignmentRepository) GetCurrent(ctx context.Context, exec sqlx.ExtContext, slotID, instructorID string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments a
WHERE a.slot_id = $1 AND a.instructor_id = $2
ORDER BY (a.` + pairHeldSQL + `) DESC, a.created_at DESC
LIMIT 1`
	var assignment models.Assignment
	if err := sqlx.GetContext(ctx, r.exec(exec), &assignment, query, slotID, instructorID); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Insert creates a pending assignment. It returns false without error when a
// non-canceled record already holds the pair.
func (r *AssignmentRepository) Insert(ctx context.Context, exec sqlx.ExtContext, assignment *models.Assignment) (bool, error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = assignment.CreatedAt
	if assignment.State == "" {
		assignment.State = models.AssignmentPending
	}
	if assignment.Classification == "" {
		assignment.Classification = models.ClassificationTemporary
	}

	query := `
INSERT INTO assignments (id, slot_id, instructor_id, unit_id, date, state, classification, role, message_sent, created_by, created_at, updated_at)
VALUES (:id, :slot_id, :instructor_id, :unit_id, :date, :state, :classification, :role, :message_sent, :created_by, :created_at, :updated_at)
ON CONFLICT (slot_id, instructor_id) WHERE ` + pairHeldSQL + ` DO NOTHING`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, assignment)
	if err != nil {
		return false, fmt.Errorf("insert assignment: %w", err)
	}
	affected, err := rowsAffected(result, "inserted assignment")
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// TransitionState moves the assignment from one state to another. It returns
// false when the row was no longer in the expected state.
func (r *AssignmentRepository) TransitionState(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AssignmentState) (bool, error) {
	const query = `UPDATE assignments SET state = $3, updated_at = $4 WHERE id = $1 AND state = $2`
	result, err := r.exec(exec).ExecContext(ctx, query, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition assignment state: %w", err)
	}
	affected, err := rowsAffected(result, "transitioned assignment")
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Confirm marks an accepted temporary assignment as confirmed.
func (r *AssignmentRepository) Confirm(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	const query = `UPDATE assignments SET classification = 'CONFIRMED', updated_at = $2
WHERE id = $1 AND state = 'ACCEPTED' AND classification = 'TEMPORARY'`
	result, err := r.exec(exec).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("confirm assignment: %w", err)
	}
	affected, err := rowsAffected(result, "confirmed assignment")
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetMessageSent records the notification collaborator's delivery status.
func (r *AssignmentRepository) SetMessageSent(ctx context.Context, exec sqlx.ExtContext, id string, sent bool) error {
	const query = `UPDATE assignments SET message_sent = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, sent, time.Now().UTC()); err != nil {
		return fmt.Errorf("update message sent: %w", err)
	}
	return nil
}

// SetRole sets or clears the role of a live assignment.
func (r *AssignmentRepository) SetRole(ctx context.Context, exec sqlx.ExtContext, id string, role *models.AssignmentRole) error {
	const query = `UPDATE assignments SET role = $2, updated_at = $3 WHERE id = $1`
	var value interface{}
	if role != nil {
		value = string(*role)
	}
	if _, err := r.exec(exec).ExecContext(ctx, query, id, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("update assignment role: %w", err)
	}
	return nil
}

// ClearUnitHead removes the HEAD role from live assignments of the unit, except exceptID.
func (r *AssignmentRepository) ClearUnitHead(ctx context.Context, exec sqlx.ExtContext, unitID, exceptID string) (int64, error) {
	query := `UPDATE assignments SET role = NULL, updated_at = $3
WHERE unit_id = $1 AND role = 'HEAD' AND id <> $2 AND state IN ` + liveStatesSQL
	result, err := r.exec(exec).ExecContext(ctx, query, unitID, exceptID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("clear unit head: %w", err)
	}
	return rowsAffected(result, "cleared head")
}

// CancelLive cancels the live assignment of the pair and returns the number of rows changed.
func (r *AssignmentRepository) CancelLive(ctx context.Context, exec sqlx.ExtContext, slotID, instructorID string) (int64, error) {
	query := `UPDATE assignments SET state = 'CANCELED', updated_at = $3
WHERE slot_id = $1 AND instructor_id = $2 AND state IN ` + liveStatesSQL
	result, err := r.exec(exec).ExecContext(ctx, query, slotID, instructorID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cancel assignment: %w", err)
	}
	return rowsAffected(result, "canceled assignment")
}

// CountLive counts the live assignments of a slot.
func (r *AssignmentRepository) CountLive(ctx context.Context, exec sqlx.ExtContext, slotID string) (int, error) {
	query := `SELECT COUNT(*) FROM assignments WHERE slot_id = $1 AND state IN ` + liveStatesSQL
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, slotID); err != nil {
		return 0, fmt.Errorf("count live assignments: %w", err)
	}
	return count, nil
}

// ListHeldByDateRange returns the non-canceled assignments dated inside the range.
func (r *AssignmentRepository) ListHeldByDateRange(ctx context.Context, exec sqlx.ExtContext, start, end string) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments a
WHERE a.date BETWEEN $1 AND $2 AND a.` + pairHeldSQL + `
ORDER BY a.date ASC, a.slot_id ASC, a.instructor_id ASC`
	assignments := []models.Assignment{}
	if err := sqlx.SelectContext(ctx, r.exec(exec), &assignments, query, start, end); err != nil {
		return nil, fmt.Errorf("list held assignments: %w", err)
	}
	return assignments, nil
}

// List returns assignment details matching the filter along with the total count.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.AssignmentDetail, int, error) {
	conditions := []string{"a.date BETWEEN $1 AND $2"}
	args := []interface{}{filter.Start, filter.End}
	if filter.UnitID != "" {
		args = append(args, filter.UnitID)
		conditions = append(conditions, fmt.Sprintf("a.unit_id = $%d", len(args)))
	}
	if filter.InstructorID != "" {
		args = append(args, filter.InstructorID)
		conditions = append(conditions, fmt.Sprintf("a.instructor_id = $%d", len(args)))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		args = append(args, pq.Array(states))
		conditions = append(conditions, fmt.Sprintf("a.state = ANY($%d)", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM assignments a` + where
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}

	query := `SELECT ` + assignmentColumns + `,
       u.name AS unit_name, s.location_name, i.name AS instructor_name, i.category AS instructor_category
FROM assignments a
JOIN slots s ON s.id = a.slot_id
JOIN units u ON u.id = a.unit_id
JOIN instructors i ON i.id = a.instructor_id` + where + `
ORDER BY a.date ASC, u.name ASC, i.name ASC`
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	details := []models.AssignmentDetail{}
	if err := sqlx.SelectContext(ctx, r.db, &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	return details, total, nil
}

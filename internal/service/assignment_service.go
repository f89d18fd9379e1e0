package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/export"
)

type assignmentLifecycleStore interface {
	GetCurrent(ctx context.Context, exec sqlx.ExtContext, slotID, instructorID string) (*models.Assignment, error)
	TransitionState(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AssignmentState) (bool, error)
	Confirm(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	SetMessageSent(ctx context.Context, exec sqlx.ExtContext, id string, sent bool) error
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.AssignmentDetail, int, error)
}

type lifecycleNotifier interface {
	Enqueue(ctx context.Context, a models.Assignment, event string)
}

// AssignmentService runs lifecycle transitions. Every transition is a conditional
// update on the expected source state, so a concurrent change surfaces as
// CONFLICTING_STATE instead of being overwritten.
type AssignmentService struct {
	store    assignmentLifecycleStore
	notifier lifecycleNotifier
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewAssignmentService constructs the service.
func NewAssignmentService(store assignmentLifecycleStore, notifier lifecycleNotifier, metrics *MetricsService, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{store: store, notifier: notifier, metrics: metrics, logger: logger}
}

func (s *AssignmentService) load(ctx context.Context, slotID, instructorID string) (*models.Assignment, error) {
	if strings.TrimSpace(slotID) == "" || strings.TrimSpace(instructorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "slotId and instructorId are required")
	}
	assignment, err := s.store.GetCurrent(ctx, nil, slotID, instructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	return assignment, nil
}

func conflictingState(a *models.Assignment, action string) error {
	return appErrors.Clone(appErrors.ErrConflictingState, fmt.Sprintf("cannot %s assignment in state %s", action, a.State))
}

func (s *AssignmentService) transition(ctx context.Context, a *models.Assignment, to models.AssignmentState, action string) (*models.Assignment, error) {
	if !a.State.CanTransitionTo(to) {
		return nil, conflictingState(a, action)
	}
	ok, err := s.store.TransitionState(ctx, nil, a.ID, a.State, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to update assignment")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflictingState, "assignment changed concurrently")
	}
	from := a.State
	a.State = to
	s.metrics.RecordTransition(string(to))
	s.logger.Info("assignment transitioned",
		zap.String("assignment_id", a.ID), zap.String("from", string(from)), zap.String("to", string(to)))
	return a, nil
}

// Respond records an instructor response to a pending assignment.
func (s *AssignmentService) Respond(ctx context.Context, slotID, instructorID, response string) (*models.Assignment, error) {
	target, ok := models.ParseResponse(response)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidResponse, fmt.Sprintf("response must be %s or %s", models.ResponseAccept, models.ResponseReject))
	}
	a, err := s.load(ctx, slotID, instructorID)
	if err != nil {
		return nil, err
	}
	if a.State != models.AssignmentPending {
		return nil, conflictingState(a, "respond to")
	}
	return s.transition(ctx, a, target, "respond to")
}

// Cancel cancels a pending or accepted assignment.
func (s *AssignmentService) Cancel(ctx context.Context, slotID, instructorID string) (*models.Assignment, error) {
	a, err := s.load(ctx, slotID, instructorID)
	if err != nil {
		return nil, err
	}
	a, err = s.transition(ctx, a, models.AssignmentCanceled, "cancel")
	if err != nil {
		return nil, err
	}
	if s.notifier != nil && a.MessageSent {
		s.notifier.Enqueue(ctx, *a, EventCanceled)
	}
	return a, nil
}

// Confirm finalizes an accepted temporary assignment and queues the confirmation notice.
func (s *AssignmentService) Confirm(ctx context.Context, slotID, instructorID string) (*models.Assignment, error) {
	a, err := s.load(ctx, slotID, instructorID)
	if err != nil {
		return nil, err
	}
	if a.State != models.AssignmentAccepted || a.Classification != models.ClassificationTemporary {
		return nil, appErrors.Clone(appErrors.ErrConflictingState,
			fmt.Sprintf("only accepted temporary assignments can be confirmed (state %s, classification %s)", a.State, a.Classification))
	}
	ok, err := s.store.Confirm(ctx, nil, a.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to confirm assignment")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflictingState, "assignment changed concurrently")
	}
	a.Classification = models.ClassificationConfirmed
	s.metrics.RecordTransition(string(models.ClassificationConfirmed))
	if s.notifier != nil {
		s.notifier.Enqueue(ctx, *a, EventConfirmed)
	}
	return a, nil
}

// MarkMessageSent stores the collaborator's delivery report. Sent defaults to true.
func (s *AssignmentService) MarkMessageSent(ctx context.Context, slotID, instructorID string, sent *bool) (*models.Assignment, error) {
	a, err := s.load(ctx, slotID, instructorID)
	if err != nil {
		return nil, err
	}
	value := true
	if sent != nil {
		value = *sent
	}
	if err := s.store.SetMessageSent(ctx, nil, a.ID, value); err != nil {
		return nil, appErrors.Internal(err, "failed to record message status")
	}
	a.MessageSent = value
	return a, nil
}

func toFilter(q dto.AssignmentListQuery) (models.AssignmentFilter, error) {
	if err := validateRange(q.Start, q.End); err != nil {
		return models.AssignmentFilter{}, err
	}
	filter := models.AssignmentFilter{
		Start:        q.Start,
		End:          q.End,
		UnitID:       q.UnitID,
		InstructorID: q.InstructorID,
		Page:         q.Page,
		PageSize:     q.PageSize,
	}
	for _, st := range q.States {
		filter.States = append(filter.States, models.AssignmentState(strings.ToUpper(st)))
	}
	return filter, nil
}

// List returns assignments in the range with pagination metadata.
func (s *AssignmentService) List(ctx context.Context, q dto.AssignmentListQuery) ([]models.AssignmentDetail, *models.Pagination, error) {
	filter, err := toFilter(q)
	if err != nil {
		return nil, nil, err
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list assignments")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ExportRoster renders every assignment in the range as CSV or PDF.
func (s *AssignmentService) ExportRoster(ctx context.Context, q dto.AssignmentListQuery) ([]byte, string, export.Format, error) {
	format, err := export.ParseFormat(q.Format)
	if err != nil {
		return nil, "", "", appErrors.Clone(appErrors.ErrInvalidArgument, err.Error())
	}
	filter, err := toFilter(q)
	if err != nil {
		return nil, "", "", err
	}
	filter.Page, filter.PageSize = 0, 0
	items, _, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, "", "", appErrors.Internal(err, "failed to load roster")
	}

	data := export.Dataset{
		Title:   fmt.Sprintf("Instructor roster %s to %s", filter.Start, filter.End),
		Headers: []string{"Date", "Unit", "Location", "Instructor", "Category", "Role", "State", "Classification", "Message Sent"},
		Rows:    make([][]string, 0, len(items)),
	}
	for _, item := range items {
		role := ""
		if item.Role != nil {
			role = string(*item.Role)
		}
		sent := "no"
		if item.MessageSent {
			sent = "yes"
		}
		data.Rows = append(data.Rows, []string{
			item.Date, item.UnitName, item.LocationName, item.InstructorName, string(item.InstructorCategory),
			role, string(item.State), string(item.Classification), sent,
		})
	}

	body, err := export.RendererFor(format).Render(data)
	if err != nil {
		return nil, "", "", appErrors.Internal(err, "failed to render roster")
	}
	filename := fmt.Sprintf("roster_%s_%s.%s", filter.Start, filter.End, format)
	return body, filename, format, nil
}

package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/pkg/database"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

type changeSetSlotReader interface {
	Get(ctx context.Context, exec sqlx.ExtContext, slotID string) (*models.OpenSlot, error)
}

type changeSetUnitStore interface {
	Get(ctx context.Context, exec sqlx.ExtContext, unitID string) (*models.Unit, error)
	SetStaffLock(ctx context.Context, exec sqlx.ExtContext, unitID string, locked bool) error
}

type changeSetAssignmentStore interface {
	GetCurrent(ctx context.Context, exec sqlx.ExtContext, slotID, instructorID string) (*models.Assignment, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, assignment *models.Assignment) (bool, error)
	CountLive(ctx context.Context, exec sqlx.ExtContext, slotID string) (int, error)
	CancelLive(ctx context.Context, exec sqlx.ExtContext, slotID, instructorID string) (int64, error)
	TransitionState(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AssignmentState) (bool, error)
	SetRole(ctx context.Context, exec sqlx.ExtContext, id string, role *models.AssignmentRole) error
	ClearUnitHead(ctx context.Context, exec sqlx.ExtContext, unitID, exceptID string) (int64, error)
}

// categoryTally is the outcome of one change category before it is merged.
type categoryTally struct {
	count   int
	skipped []dto.SkippedChange
}

func (t *categoryTally) skip(category, slotID, instructorID, reason string) {
	t.skipped = append(t.skipped, dto.SkippedChange{Category: category, SlotID: slotID, InstructorID: instructorID, Reason: reason})
}

type categoryApplier struct {
	name  string
	size  int
	apply func(ctx context.Context, tx sqlx.ExtContext) (*categoryTally, error)
}

// ChangeSetService applies manual edit batches.
type ChangeSetService struct {
	db          database.TxBeginner
	slots       changeSetSlotReader
	units       changeSetUnitStore
	assignments changeSetAssignmentStore
	lock        LockFunc
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewChangeSetService constructs the applier.
func NewChangeSetService(db database.TxBeginner, slots changeSetSlotReader, units changeSetUnitStore, assignments changeSetAssignmentStore, lock LockFunc, metrics *MetricsService, logger *zap.Logger) *ChangeSetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lock == nil {
		lock = func(context.Context, sqlx.ExtContext, ...string) error { return nil }
	}
	return &ChangeSetService{db: db, slots: slots, units: units, assignments: assignments, lock: lock, metrics: metrics, logger: logger}
}

// Apply processes add, remove, roleChanges, staffLockChanges and stateChanges in
// that order. Each category is all-or-nothing. In atomic mode the whole set shares
// one transaction and the first failing category aborts everything. Otherwise each
// category commits on its own and failures are reported in the result.
func (s *ChangeSetService) Apply(ctx context.Context, cs dto.ChangeSet) (*dto.ChangeSetResult, error) {
	result := &dto.ChangeSetResult{}
	if cs.Empty() {
		return result, nil
	}
	for _, sc := range cs.StateChanges {
		if sc.State != models.AssignmentAccepted {
			return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "stateChanges only support ACCEPTED")
		}
	}

	appliers := []categoryApplier{
		{name: dto.CategoryAdd, size: len(cs.Add), apply: func(ctx context.Context, tx sqlx.ExtContext) (*categoryTally, error) {
			return s.applyAdds(ctx, tx, cs.Add)
		}},
		{name: dto.CategoryRemove, size: len(cs.Remove), apply: func(ctx context.Context, tx sqlx.ExtContext) (*categoryTally, error) {
			return s.applyRemoves(ctx, tx, cs.Remove)
		}},
		{name: dto.CategoryRoles, size: len(cs.RoleChanges), apply: func(ctx context.Context, tx sqlx.ExtContext) (*categoryTally, error) {
			return s.applyRoles(ctx, tx, cs.RoleChanges)
		}},
		{name: dto.CategoryStaffLocks, size: len(cs.StaffLockChanges), apply: func(ctx context.Context, tx sqlx.ExtContext) (*categoryTally, error) {
			return s.applyStaffLocks(ctx, tx, cs.StaffLockChanges)
		}},
		{name: dto.CategoryStates, size: len(cs.StateChanges), apply: func(ctx context.Context, tx sqlx.ExtContext) (*categoryTally, error) {
			return s.applyStates(ctx, tx, cs.StateChanges)
		}},
	}

	if cs.IsAtomic() {
		tallies := map[string]*categoryTally{}
		err := database.WithTx(ctx, s.db, database.Serializable, 1, func(tx *sqlx.Tx) error {
			for _, a := range appliers {
				if a.size == 0 {
					continue
				}
				tally, err := a.apply(ctx, tx)
				if err != nil {
					s.metrics.RecordChangeSetItems(a.name, "failed", a.size)
					return err
				}
				tallies[a.name] = tally
			}
			return nil
		})
		if err != nil {
			return nil, s.translateTxError(err)
		}
		for _, a := range appliers {
			if tally, ok := tallies[a.name]; ok {
				s.merge(result, a.name, tally)
			}
		}
		return result, nil
	}

	for _, a := range appliers {
		if a.size == 0 {
			continue
		}
		var tally *categoryTally
		err := database.WithTx(ctx, s.db, database.Serializable, 1, func(tx *sqlx.Tx) error {
			var applyErr error
			tally, applyErr = a.apply(ctx, tx)
			return applyErr
		})
		if err != nil {
			appErr := appErrors.FromError(s.translateTxError(err))
			s.metrics.RecordChangeSetItems(a.name, "failed", a.size)
			s.logger.Warn("change set category failed", zap.String("category", a.name), zap.Error(err))
			result.Failures = append(result.Failures, dto.CategoryFailure{Category: a.name, Code: appErr.Code, Message: appErr.Message})
			continue
		}
		s.merge(result, a.name, tally)
	}
	return result, nil
}

func (s *ChangeSetService) translateTxError(err error) error {
	if database.IsRetryable(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "concurrent dispatch changes detected, resubmit the change set")
	}
	if database.IsUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "change violates an assignment uniqueness rule")
	}
	return appErrors.FromError(err)
}

func (s *ChangeSetService) merge(result *dto.ChangeSetResult, category string, tally *categoryTally) {
	switch category {
	case dto.CategoryAdd:
		result.Added = tally.count
	case dto.CategoryRemove:
		result.Removed = tally.count
	case dto.CategoryRoles:
		result.RolesUpdated = tally.count
	case dto.CategoryStaffLocks:
		result.StaffLocksUpdated = tally.count
	case dto.CategoryStates:
		result.StatesUpdated = tally.count
	}
	result.Skipped = append(result.Skipped, tally.skipped...)
	s.metrics.RecordChangeSetItems(category, "applied", tally.count)
	s.metrics.RecordChangeSetItems(category, "skipped", len(tally.skipped))
}

func (s *ChangeSetService) loadSlot(ctx context.Context, tx sqlx.ExtContext, slotID string) (*models.OpenSlot, error) {
	slot, err := s.slots.Get(ctx, tx, slotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "slot "+slotID+" not found")
		}
		return nil, appErrors.Internal(err, "failed to load slot")
	}
	return slot, nil
}

func (s *ChangeSetService) loadLive(ctx context.Context, tx sqlx.ExtContext, slotID, instructorID string) (*models.Assignment, error) {
	a, err := s.assignments.GetCurrent(ctx, tx, slotID, instructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	return a, nil
}

func (s *ChangeSetService) applyAdds(ctx context.Context, tx sqlx.ExtContext, adds []dto.AddChange) (*categoryTally, error) {
	tally := &categoryTally{}
	lockedUnits := map[string]bool{}
	for _, add := range adds {
		slot, err := s.loadSlot(ctx, tx, add.SlotID)
		if err != nil {
			return nil, err
		}
		if err := s.lock(ctx, tx, slotLockKey(slot.ID), unitLockKey(slot.UnitID)); err != nil {
			return nil, appErrors.Internal(err, "failed to lock slot")
		}

		locked, ok := lockedUnits[slot.UnitID]
		if !ok {
			unit, err := s.units.Get(ctx, tx, slot.UnitID)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to load unit")
			}
			locked = unit.StaffLocked
			lockedUnits[slot.UnitID] = locked
		}
		if locked {
			tally.skip(dto.CategoryAdd, add.SlotID, add.InstructorID, dto.SkipStaffLocked)
			continue
		}

		current, err := s.assignments.GetCurrent(ctx, tx, add.SlotID, add.InstructorID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Internal(err, "failed to load assignment")
		}
		if current != nil && current.State == models.AssignmentRejected {
			tally.skip(dto.CategoryAdd, add.SlotID, add.InstructorID, dto.SkipDeclined)
			continue
		}
		if current != nil && current.HoldsPair() {
			tally.skip(dto.CategoryAdd, add.SlotID, add.InstructorID, dto.SkipDuplicate)
			continue
		}

		live, err := s.assignments.CountLive(ctx, tx, slot.ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to count slot assignments")
		}
		if live >= slot.RequiredCount && !add.Override && !slot.AllowOverfill {
			tally.skip(dto.CategoryAdd, add.SlotID, add.InstructorID, dto.SkipCapacityFull)
			continue
		}

		assignment := models.Assignment{
			ID:           uuid.NewString(),
			SlotID:       slot.ID,
			InstructorID: add.InstructorID,
			UnitID:       slot.UnitID,
			Date:         slot.Date,
			Role:         add.Role,
			CreatedBy:    models.CreatedByEditor,
		}
		if add.Role != nil && *add.Role == models.RoleHead {
			if _, err := s.assignments.ClearUnitHead(ctx, tx, slot.UnitID, assignment.ID); err != nil {
				return nil, appErrors.Internal(err, "failed to clear unit head")
			}
		}
		inserted, err := s.assignments.Insert(ctx, tx, &assignment)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to add assignment")
		}
		if !inserted {
			tally.skip(dto.CategoryAdd, add.SlotID, add.InstructorID, dto.SkipDuplicate)
			continue
		}
		tally.count++
	}
	return tally, nil
}

func (s *ChangeSetService) applyRemoves(ctx context.Context, tx sqlx.ExtContext, removes []dto.AssignmentKey) (*categoryTally, error) {
	tally := &categoryTally{}
	for _, rm := range removes {
		if err := s.lock(ctx, tx, slotLockKey(rm.SlotID)); err != nil {
			return nil, appErrors.Internal(err, "failed to lock slot")
		}
		n, err := s.assignments.CancelLive(ctx, tx, rm.SlotID, rm.InstructorID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to remove assignment")
		}
		if n == 0 {
			tally.skip(dto.CategoryRemove, rm.SlotID, rm.InstructorID, dto.SkipNotLive)
			continue
		}
		tally.count += int(n)
	}
	return tally, nil
}

func (s *ChangeSetService) applyRoles(ctx context.Context, tx sqlx.ExtContext, changes []dto.RoleChange) (*categoryTally, error) {
	tally := &categoryTally{}
	for _, rc := range changes {
		a, err := s.loadLive(ctx, tx, rc.SlotID, rc.InstructorID)
		if err != nil {
			return nil, err
		}
		if !a.IsLive() {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no live assignment for "+rc.SlotID+"/"+rc.InstructorID)
		}
		if err := s.lock(ctx, tx, unitLockKey(a.UnitID)); err != nil {
			return nil, appErrors.Internal(err, "failed to lock unit")
		}
		if rc.Role != nil && *rc.Role == models.RoleHead {
			if _, err := s.assignments.ClearUnitHead(ctx, tx, a.UnitID, a.ID); err != nil {
				return nil, appErrors.Internal(err, "failed to clear unit head")
			}
		}
		if err := s.assignments.SetRole(ctx, tx, a.ID, rc.Role); err != nil {
			return nil, appErrors.Internal(err, "failed to update role")
		}
		tally.count++
	}
	return tally, nil
}

func (s *ChangeSetService) applyStaffLocks(ctx context.Context, tx sqlx.ExtContext, changes []dto.StaffLockChange) (*categoryTally, error) {
	tally := &categoryTally{}
	for _, lc := range changes {
		if err := s.lock(ctx, tx, unitLockKey(lc.UnitID)); err != nil {
			return nil, appErrors.Internal(err, "failed to lock unit")
		}
		if err := s.units.SetStaffLock(ctx, tx, lc.UnitID, lc.Locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "unit "+lc.UnitID+" not found")
			}
			return nil, appErrors.Internal(err, "failed to update staff lock")
		}
		tally.count++
	}
	return tally, nil
}

func (s *ChangeSetService) applyStates(ctx context.Context, tx sqlx.ExtContext, changes []dto.StateChange) (*categoryTally, error) {
	tally := &categoryTally{}
	for _, sc := range changes {
		a, err := s.loadLive(ctx, tx, sc.SlotID, sc.InstructorID)
		if err != nil {
			return nil, err
		}
		if a.State == models.AssignmentAccepted {
			tally.skip(dto.CategoryStates, sc.SlotID, sc.InstructorID, dto.SkipAlreadyApplied)
			continue
		}
		if a.State != models.AssignmentPending {
			return nil, conflictingState(a, "promote")
		}
		if !a.MessageSent {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "message not yet sent for "+sc.SlotID+"/"+sc.InstructorID)
		}
		ok, err := s.assignments.TransitionState(ctx, tx, a.ID, models.AssignmentPending, models.AssignmentAccepted)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to promote assignment")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrConflictingState, "assignment changed concurrently")
		}
		s.metrics.RecordTransition(string(models.AssignmentAccepted))
		tally.count++
	}
	return tally, nil
}

package service

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

type openSlotReader interface {
	ListOpen(ctx context.Context, exec sqlx.ExtContext, start, end string) ([]models.OpenSlot, error)
}

type availableInstructorReader interface {
	ListAvailable(ctx context.Context, exec sqlx.ExtContext, start, end string) ([]models.Instructor, error)
}

type distancePairReader interface {
	ListForPairs(ctx context.Context, instructorIDs, unitIDs []string) ([]models.DistanceRecord, error)
}

type heldAssignmentReader interface {
	ListHeldByDateRange(ctx context.Context, exec sqlx.ExtContext, start, end string) ([]models.Assignment, error)
}

// candidateSnapshot is the resolved read model for a date range.
type candidateSnapshot struct {
	slots       []models.OpenSlot
	units       map[string]models.Unit
	instructors []models.Instructor
	distances   distanceIndex
	held        []models.Assignment
	bookings    *bookingIndex
}

// CandidateService resolves open slots and available instructors for a date range.
type CandidateService struct {
	slots       openSlotReader
	units       unitLister
	instructors availableInstructorReader
	distances   distancePairReader
	assignments heldAssignmentReader
	policy      FilterPolicy
	logger      *zap.Logger
}

// NewCandidateService constructs the resolver.
func NewCandidateService(slots openSlotReader, units unitLister, instructors availableInstructorReader, distances distancePairReader, assignments heldAssignmentReader, policy FilterPolicy, logger *zap.Logger) *CandidateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateService{
		slots:       slots,
		units:       units,
		instructors: instructors,
		distances:   distances,
		assignments: assignments,
		policy:      policy,
		logger:      logger,
	}
}

// Policy returns the distance policy applied by the filter.
func (s *CandidateService) Policy() FilterPolicy {
	return s.policy
}

func validateRange(start, end string) error {
	_, from, to, err := models.ParseDateRange(start, end)
	if err != nil {
		return appErrors.Clone(appErrors.ErrInvalidArgument, err.Error())
	}
	if from.After(to) {
		return appErrors.Clone(appErrors.ErrInvalidRange, "start must not be after end")
	}
	return nil
}

// resolve builds the snapshot with exec, which may be a transaction.
func (s *CandidateService) resolve(ctx context.Context, exec sqlx.ExtContext, start, end string) (*candidateSnapshot, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	slots, err := s.slots.ListOpen(ctx, exec, start, end)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load open slots")
	}
	instructors, err := s.instructors.ListAvailable(ctx, exec, start, end)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load available instructors")
	}
	held, err := s.assignments.ListHeldByDateRange(ctx, exec, start, end)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load assignments")
	}

	unitIDs := make([]string, 0, len(slots))
	for _, slot := range slots {
		unitIDs = append(unitIDs, slot.UnitID)
	}
	unitIDs = dedupe(unitIDs)
	unitList, err := s.units.ListByIDs(ctx, exec, unitIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load units")
	}
	units := make(map[string]models.Unit, len(unitList))
	for _, u := range unitList {
		units[u.ID] = u
	}

	instructorIDs := make([]string, len(instructors))
	for i, ins := range instructors {
		instructorIDs[i] = ins.ID
	}
	records, err := s.distances.ListForPairs(ctx, instructorIDs, unitIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load cached distances")
	}
	models.SortInstructors(instructors)

	return &candidateSnapshot{
		slots:       slots,
		units:       units,
		instructors: instructors,
		distances:   newDistanceIndex(records),
		held:        held,
		bookings:    newBookingIndex(held),
	}, nil
}

// GetCandidates lists every open slot with its eligible candidates and existing
// live assignments, plus the instructors available in the range.
func (s *CandidateService) GetCandidates(ctx context.Context, start, end string) (*dto.CandidatesResult, error) {
	snap, err := s.resolve(ctx, nil, start, end)
	if err != nil {
		return nil, err
	}

	existing := map[string][]models.Assignment{}
	for _, a := range snap.held {
		if !a.IsLive() {
			continue
		}
		existing[a.SlotID] = append(existing[a.SlotID], a)
	}

	result := &dto.CandidatesResult{
		Slots:       make([]dto.SlotCandidates, 0, len(snap.slots)),
		Instructors: snap.instructors,
	}
	for _, slot := range snap.slots {
		unit, ok := snap.units[slot.UnitID]
		if !ok {
			s.logger.Warn("slot references unknown unit", zap.String("slot_id", slot.ID), zap.String("unit_id", slot.UnitID))
			continue
		}
		current := existing[slot.ID]
		if current == nil {
			current = []models.Assignment{}
		}
		result.Slots = append(result.Slots, dto.SlotCandidates{
			Slot:        slot,
			Remaining:   slot.Remaining(),
			StaffLocked: unit.StaffLocked,
			Candidates:  FilterCandidates(slot, unit, snap.instructors, snap.distances, snap.bookings, s.policy),
			Existing:    current,
		})
	}
	return result, nil
}

// CandidatePairs returns the instructor/unit pairs a matcher run over the range
// could consider, sorted for deterministic backfill order.
func (s *CandidateService) CandidatePairs(ctx context.Context, start, end string) ([]models.DistancePair, error) {
	snap, err := s.resolve(ctx, nil, start, end)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	pairs := []models.DistancePair{}
	for _, slot := range snap.slots {
		if unit, ok := snap.units[slot.UnitID]; !ok || unit.StaffLocked {
			continue
		}
		for _, ins := range snap.instructors {
			if !ins.AvailableOn(slot.Date) {
				continue
			}
			pair := models.DistancePair{InstructorID: ins.ID, UnitID: slot.UnitID}
			if _, ok := seen[pair.Key()]; ok {
				continue
			}
			seen[pair.Key()] = struct{}{}
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].UnitID != pairs[j].UnitID {
			return pairs[i].UnitID < pairs[j].UnitID
		}
		return pairs[i].InstructorID < pairs[j].InstructorID
	})
	return pairs, nil
}

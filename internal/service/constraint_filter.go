package service

import (
	"sort"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
)

// FilterPolicy holds the distance ceilings. SubMaxKm nil means assistants are unlimited.
type FilterPolicy struct {
	InternMaxKm float64
	SubMaxKm    *float64
}

// distanceIndex maps DistancePair keys to cached records.
type distanceIndex map[string]models.DistanceRecord

func newDistanceIndex(records []models.DistanceRecord) distanceIndex {
	idx := make(distanceIndex, len(records))
	for _, r := range records {
		idx[models.DistancePair{InstructorID: r.InstructorID, UnitID: r.UnitID}.Key()] = r
	}
	return idx
}

func (d distanceIndex) lookup(instructorID, unitID string) (models.DistanceRecord, bool) {
	r, ok := d[models.DistancePair{InstructorID: instructorID, UnitID: unitID}.Key()]
	return r, ok
}

// bookingIndex tracks live engagements by date, and every pair still held by a
// non-canceled row (rejections included) by slot.
type bookingIndex struct {
	unitsByDate map[string]map[string]map[string]struct{} // date -> instructor -> units
	bySlot      map[string]map[string]struct{}            // slot -> instructors
}

func newBookingIndex(assignments []models.Assignment) *bookingIndex {
	b := &bookingIndex{
		unitsByDate: map[string]map[string]map[string]struct{}{},
		bySlot:      map[string]map[string]struct{}{},
	}
	for _, a := range assignments {
		if a.IsLive() {
			b.book(a.InstructorID, a.UnitID, a.Date)
		}
		if a.HoldsPair() {
			b.hold(a.SlotID, a.InstructorID)
		}
	}
	return b
}

func (b *bookingIndex) add(slotID, instructorID, unitID, date string) {
	b.book(instructorID, unitID, date)
	b.hold(slotID, instructorID)
}

func (b *bookingIndex) book(instructorID, unitID, date string) {
	byInstructor, ok := b.unitsByDate[date]
	if !ok {
		byInstructor = map[string]map[string]struct{}{}
		b.unitsByDate[date] = byInstructor
	}
	units, ok := byInstructor[instructorID]
	if !ok {
		units = map[string]struct{}{}
		byInstructor[instructorID] = units
	}
	units[unitID] = struct{}{}
}

func (b *bookingIndex) hold(slotID, instructorID string) {
	holders, ok := b.bySlot[slotID]
	if !ok {
		holders = map[string]struct{}{}
		b.bySlot[slotID] = holders
	}
	holders[instructorID] = struct{}{}
}

// bookedElsewhere reports a live engagement on date at a unit other than unitID.
func (b *bookingIndex) bookedElsewhere(instructorID, date, unitID string) bool {
	for u := range b.unitsByDate[date][instructorID] {
		if u != unitID {
			return true
		}
	}
	return false
}

func (b *bookingIndex) holds(slotID, instructorID string) bool {
	_, ok := b.bySlot[slotID][instructorID]
	return ok
}

// withinCeiling applies the category distance rule. Missing distance passes.
func (p FilterPolicy) withinCeiling(category models.InstructorCategory, record models.DistanceRecord, known bool) bool {
	switch category {
	case models.CategoryMain, models.CategoryCo:
		return true
	case models.CategoryPracticum:
		return !known || record.Km() <= p.InternMaxKm
	case models.CategoryAssistant:
		return !known || p.SubMaxKm == nil || record.Km() <= *p.SubMaxKm
	default:
		return false
	}
}

// FilterCandidates narrows instructors to the eligible candidates of one slot,
// ordered by distance ascending with unknown distances last, then by instructor id.
// A staff-locked unit yields no candidates.
func FilterCandidates(slot models.OpenSlot, unit models.Unit, instructors []models.Instructor, distances distanceIndex, bookings *bookingIndex, policy FilterPolicy) []dto.Candidate {
	if unit.StaffLocked {
		return []dto.Candidate{}
	}

	candidates := make([]dto.Candidate, 0, len(instructors))
	for _, instructor := range instructors {
		if !instructor.AvailableOn(slot.Date) {
			continue
		}
		record, known := distances.lookup(instructor.ID, slot.UnitID)
		if !policy.withinCeiling(instructor.Category, record, known) {
			continue
		}
		if bookings != nil && (bookings.holds(slot.ID, instructor.ID) || bookings.bookedElsewhere(instructor.ID, slot.Date, slot.UnitID)) {
			continue
		}

		candidate := dto.Candidate{Instructor: instructor}
		if known {
			km := record.Km()
			duration := record.DurationSeconds
			candidate.DistanceKm = &km
			candidate.DurationSeconds = &duration
		}
		candidates = append(candidates, candidate)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.DistanceKm != nil && b.DistanceKm != nil:
			if *a.DistanceKm != *b.DistanceKm {
				return *a.DistanceKm < *b.DistanceKm
			}
		case a.DistanceKm != nil:
			return true
		case b.DistanceKm != nil:
			return false
		}
		return a.Instructor.ID < b.Instructor.ID
	})
	return candidates
}

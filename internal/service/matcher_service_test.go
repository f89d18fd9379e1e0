package service

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

const day1 = "2026-04-01"

func newCandidateServiceFor(w *world, policy FilterPolicy) *CandidateService {
	return NewCandidateService(fakeSlots{w}, fakeUnits{w}, fakeInstructors{w}, &fakeDistances{world: w}, fakeAssignments{w}, policy, zap.NewNop())
}

type recordingNotifier struct {
	assignments []models.Assignment
	events      []string
}

func (r *recordingNotifier) EnqueueAssignments(_ context.Context, assignments []models.Assignment) {
	r.assignments = append(r.assignments, assignments...)
}

func (r *recordingNotifier) Enqueue(_ context.Context, a models.Assignment, event string) {
	r.assignments = append(r.assignments, a)
	r.events = append(r.events, event)
}

func newMatcherFor(w *world, db *sqlx.DB, policy FilterPolicy, notifier assignmentNotifier) *MatcherService {
	return NewMatcherService(MatcherConfig{
		DB:          db,
		Candidates:  newCandidateServiceFor(w, policy),
		Assignments: fakeAssignments{w},
		Lock:        w.lock,
		Notifier:    notifier,
		Metrics:     NewMetricsService(),
	})
}

func assignedTo(w *world, slotID string) []string {
	var ids []string
	for _, a := range w.assignments {
		if a.SlotID == slotID && a.IsLive() {
			ids = append(ids, a.InstructorID)
		}
	}
	return ids
}

func TestProposeAssignmentsPicksNearestWithinCeiling(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1", Name: "North"})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 2})
	for id, km := range map[string]float64{"p-far": 500, "p-mid": 50, "p-near": 5} {
		w.addInstructor(id, models.CategoryPracticum, day1)
		w.setDistance(id, "u1", km)
	}
	db, mock := newTxDB(t, 1)
	notifier := &recordingNotifier{}
	matcher := newMatcherFor(w, db, FilterPolicy{InternMaxKm: 100}, notifier)

	result, err := matcher.ProposeAssignments(context.Background(), day1, day1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Skipped)
	assert.False(t, result.Interrupted)
	assert.ElementsMatch(t, []string{"p-near", "p-mid"}, assignedTo(w, "s1"))
	for _, a := range result.Assignments {
		assert.Equal(t, models.AssignmentPending, a.State)
		assert.Equal(t, models.ClassificationTemporary, a.Classification)
		assert.Equal(t, models.CreatedByMatcher, a.CreatedBy)
	}
	assert.Len(t, notifier.assignments, 2)
	assert.Equal(t, [][]string{{"slot:s1"}}, w.locks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeAssignmentsNeverExceedsHeadcount(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1"})
	w.addUnit(models.Unit{ID: "u2"})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 2})
	w.addSlot(models.Slot{ID: "s2", UnitID: "u2", Date: "2026-04-02", RequiredCount: 3})
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		w.addInstructor(id, models.CategoryMain, day1, "2026-04-02")
	}
	w.seedAssignment(models.Assignment{SlotID: "s1", InstructorID: "m5", State: models.AssignmentAccepted})

	db, mock := newTxDB(t, 2)
	matcher := newMatcherFor(w, db, FilterPolicy{InternMaxKm: 100}, nil)

	first, err := matcher.ProposeAssignments(context.Background(), day1, "2026-04-02")
	require.NoError(t, err)
	assert.Equal(t, 1+3, first.Created)

	second, err := matcher.ProposeAssignments(context.Background(), day1, "2026-04-02")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)

	assert.Len(t, assignedTo(w, "s1"), 2)
	assert.Len(t, assignedTo(w, "s2"), 3)
	for pair, n := range w.heldPairs() {
		assert.Equal(t, 1, n, pair)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeAssignmentsSkipsDeclinedPair(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1"})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 1})
	w.addInstructor("p1", models.CategoryPracticum, day1)
	w.addInstructor("p2", models.CategoryPracticum, day1)
	w.setDistance("p1", "u1", 5)
	w.setDistance("p2", "u1", 40)
	w.seedAssignment(models.Assignment{SlotID: "s1", InstructorID: "p1", State: models.AssignmentRejected})

	db, mock := newTxDB(t, 2)
	matcher := newMatcherFor(w, db, FilterPolicy{InternMaxKm: 100}, nil)

	result, err := matcher.ProposeAssignments(context.Background(), day1, day1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, []string{"p2"}, assignedTo(w, "s1"))

	again, err := matcher.ProposeAssignments(context.Background(), day1, day1)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)

	for pair, n := range w.heldPairs() {
		assert.Equal(t, 1, n, pair)
	}
	assert.Equal(t, models.AssignmentRejected, w.find("s1", "p1").State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeAssignmentsDoesNotDoubleBookADate(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1"})
	w.addUnit(models.Unit{ID: "u2"})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 1})
	w.addSlot(models.Slot{ID: "s2", UnitID: "u2", Date: day1, RequiredCount: 1})
	w.addInstructor("only", models.CategoryCo, day1)

	db, _ := newTxDB(t, 1)
	matcher := newMatcherFor(w, db, FilterPolicy{}, nil)

	result, err := matcher.ProposeAssignments(context.Background(), day1, day1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"only"}, assignedTo(w, "s1"))
	assert.Empty(t, assignedTo(w, "s2"))
}

func TestProposeAssignmentsSkipsStaffLockedUnit(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1", StaffLocked: true})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 2})
	w.addInstructor("m1", models.CategoryMain, day1)

	db, _ := newTxDB(t, 1)
	matcher := newMatcherFor(w, db, FilterPolicy{}, nil)

	result, err := matcher.ProposeAssignments(context.Background(), day1, day1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, assignedTo(w, "s1"))
}

func TestProposeAssignmentsServesCategoryQuotasFirst(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1", CategoryQuotas: []byte(`{"MAIN":1,"CO":1}`)})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 2})
	w.addInstructor("a1", models.CategoryAssistant, day1)
	w.addInstructor("m1", models.CategoryMain, day1)
	w.setDistance("a1", "u1", 1)
	w.setDistance("m1", "u1", 30)

	db, _ := newTxDB(t, 1)
	matcher := newMatcherFor(w, db, FilterPolicy{}, nil)

	result, err := matcher.ProposeAssignments(context.Background(), day1, day1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.ElementsMatch(t, []string{"m1", "a1"}, assignedTo(w, "s1"))
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, dto.QuotaWarning{SlotID: "s1", UnitID: "u1", Date: day1, Category: models.CategoryCo, Required: 1, Filled: 0}, result.Warnings[0])
}

func TestProposeAssignmentsCommitsPartialWorkWhenCanceled(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1"})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 1})
	w.addInstructor("m1", models.CategoryMain, day1)

	db, mock := newTxDB(t, 1)
	matcher := newMatcherFor(w, db, FilterPolicy{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := matcher.ProposeAssignments(ctx, day1, day1)
	require.NoError(t, err)
	assert.True(t, result.Interrupted)
	assert.Equal(t, 0, result.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeAssignmentsRejectsBadRange(t *testing.T) {
	w := newWorld()
	db, mock := newTxDB(t, 0)
	matcher := newMatcherFor(w, db, FilterPolicy{}, nil)

	_, err := matcher.ProposeAssignments(context.Background(), "2026-04-05", day1)
	assert.ErrorIs(t, err, appErrors.ErrInvalidRange)

	_, err = matcher.ProposeAssignments(context.Background(), "04/01/2026", day1)
	assert.ErrorIs(t, err, appErrors.ErrInvalidArgument)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposeAssignmentsMapsSerializationFailureToConflict(t *testing.T) {
	w := newWorld()
	w.addUnit(models.Unit{ID: "u1"})
	w.addSlot(models.Slot{ID: "s1", UnitID: "u1", Date: day1, RequiredCount: 1})
	w.addInstructor("m1", models.CategoryMain, day1)

	db, mock := newTxDB(t, 0)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
	matcher := newMatcherFor(w, db, FilterPolicy{}, nil)

	_, err := matcher.ProposeAssignments(context.Background(), day1, day1)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestPickCandidatesHonoursCategoryPriority(t *testing.T) {
	candidates := []dto.Candidate{
		{Instructor: models.Instructor{ID: "a", Category: models.CategoryAssistant}},
		{Instructor: models.Instructor{ID: "c", Category: models.CategoryCo}},
		{Instructor: models.Instructor{ID: "m", Category: models.CategoryMain}},
		{Instructor: models.Instructor{ID: "p", Category: models.CategoryPracticum}},
	}

	picks, shortfalls := pickCandidates(candidates, 3, models.CategoryQuotas{models.CategoryMain: 1, models.CategoryCo: 1}, nil)
	ids := make([]string, len(picks))
	for i, p := range picks {
		ids[i] = p.Instructor.ID
	}
	assert.Equal(t, []string{"m", "c", "a"}, ids)
	assert.Empty(t, shortfalls)

	_, shortfalls = pickCandidates(candidates, 3, models.CategoryQuotas{models.CategoryCo: 2}, nil)
	assert.Equal(t, []quotaShortfall{{category: models.CategoryCo, required: 2, filled: 1}}, shortfalls)

	_, shortfalls = pickCandidates(candidates, 2, models.CategoryQuotas{models.CategoryMain: 1}, map[models.InstructorCategory]int{models.CategoryMain: 1})
	assert.Empty(t, shortfalls)
}

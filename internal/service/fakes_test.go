package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/routing"
)

// world is an in-memory dispatch store shared by the repository fakes below.
type world struct {
	mu          sync.Mutex
	slots       []models.Slot
	units       map[string]models.Unit
	instructors []models.Instructor
	distances   map[string]models.DistanceRecord
	assignments []*models.Assignment
	seq         int
	locks       [][]string
}

func newWorld() *world {
	return &world{units: map[string]models.Unit{}, distances: map[string]models.DistanceRecord{}}
}

func (w *world) addUnit(u models.Unit) { w.units[u.ID] = u }

func (w *world) addSlot(s models.Slot) { w.slots = append(w.slots, s) }

func (w *world) addInstructor(id string, cat models.InstructorCategory, dates ...string) {
	w.instructors = append(w.instructors, models.Instructor{
		ID: id, Name: "Instructor " + id, Category: cat, AvailableDates: dates, Latitude: 35, Longitude: 139,
	})
}

func (w *world) setDistance(instructorID, unitID string, km float64) {
	w.distances[models.DistancePair{InstructorID: instructorID, UnitID: unitID}.Key()] = models.DistanceRecord{
		InstructorID: instructorID, UnitID: unitID, DistanceMeters: int(km * 1000), DurationSeconds: int(km * 60),
	}
}

func (w *world) seedAssignment(a models.Assignment) *models.Assignment {
	w.seq++
	if a.ID == "" {
		a.ID = fmt.Sprintf("a-%d", w.seq)
	}
	if a.State == "" {
		a.State = models.AssignmentPending
	}
	if a.Classification == "" {
		a.Classification = models.ClassificationTemporary
	}
	for _, s := range w.slots {
		if s.ID == a.SlotID {
			a.UnitID, a.Date = s.UnitID, s.Date
		}
	}
	stored := a
	w.assignments = append(w.assignments, &stored)
	return &stored
}

func (w *world) liveCount(slotID string) int {
	n := 0
	for _, a := range w.assignments {
		if a.SlotID == slotID && a.IsLive() {
			n++
		}
	}
	return n
}

func (w *world) find(slotID, instructorID string) *models.Assignment {
	var latest *models.Assignment
	for _, a := range w.assignments {
		if a.SlotID != slotID || a.InstructorID != instructorID {
			continue
		}
		if a.HoldsPair() {
			return a
		}
		latest = a
	}
	return latest
}

func (w *world) byID(id string) *models.Assignment {
	for _, a := range w.assignments {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (w *world) lock(_ context.Context, _ sqlx.ExtContext, keys ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locks = append(w.locks, keys)
	return nil
}

type fakeSlots struct{ *world }

func (f fakeSlots) ListOpen(_ context.Context, _ sqlx.ExtContext, start, end string) ([]models.OpenSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.OpenSlot{}
	for _, s := range f.slots {
		if s.Date < start || s.Date > end {
			continue
		}
		live := f.liveCount(s.ID)
		if live < s.RequiredCount {
			out = append(out, models.OpenSlot{Slot: s, LiveCount: live})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f fakeSlots) Get(_ context.Context, _ sqlx.ExtContext, slotID string) (*models.OpenSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.ID == slotID {
			return &models.OpenSlot{Slot: s, LiveCount: f.liveCount(s.ID)}, nil
		}
	}
	return nil, sql.ErrNoRows
}

type fakeUnits struct{ *world }

func (f fakeUnits) Get(_ context.Context, _ sqlx.ExtContext, unitID string) (*models.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[unitID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (f fakeUnits) ListByIDs(_ context.Context, _ sqlx.ExtContext, ids []string) ([]models.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Unit{}
	for _, id := range ids {
		if u, ok := f.units[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f fakeUnits) SetStaffLock(_ context.Context, _ sqlx.ExtContext, unitID string, locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[unitID]
	if !ok {
		return sql.ErrNoRows
	}
	u.StaffLocked = locked
	f.units[unitID] = u
	return nil
}

type fakeInstructors struct{ *world }

func (f fakeInstructors) ListAvailable(_ context.Context, _ sqlx.ExtContext, start, end string) ([]models.Instructor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Instructor{}
	for _, ins := range f.instructors {
		for _, d := range ins.AvailableDates {
			if d >= start && d <= end {
				out = append(out, ins)
				break
			}
		}
	}
	return out, nil
}

func (f fakeInstructors) ListByIDs(_ context.Context, _ sqlx.ExtContext, ids []string) ([]models.Instructor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := []models.Instructor{}
	for _, ins := range f.instructors {
		if want[ins.ID] {
			out = append(out, ins)
		}
	}
	return out, nil
}

type fakeDistances struct {
	*world
	upserts int
}

func (f *fakeDistances) Get(_ context.Context, instructorID, unitID string) (*models.DistanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.distances[models.DistancePair{InstructorID: instructorID, UnitID: unitID}.Key()]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (f *fakeDistances) ListForPairs(_ context.Context, instructorIDs, unitIDs []string) ([]models.DistanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.DistanceRecord{}
	for _, ins := range instructorIDs {
		for _, u := range unitIDs {
			if r, ok := f.distances[models.DistancePair{InstructorID: ins, UnitID: u}.Key()]; ok {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (f *fakeDistances) UnitsWithin(_ context.Context, instructorID string, minMeters, maxMeters int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, r := range f.distances {
		if r.InstructorID == instructorID && r.DistanceMeters >= minMeters && r.DistanceMeters <= maxMeters {
			out = append(out, r.UnitID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeDistances) InstructorsWithin(_ context.Context, unitID string, minMeters, maxMeters int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, r := range f.distances {
		if r.UnitID == unitID && r.DistanceMeters >= minMeters && r.DistanceMeters <= maxMeters {
			out = append(out, r.InstructorID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeDistances) ExistingPairs(_ context.Context, pairs []models.DistancePair) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, p := range pairs {
		if _, ok := f.distances[p.Key()]; ok {
			out[p.Key()] = true
		}
	}
	return out, nil
}

func (f *fakeDistances) Upsert(_ context.Context, _ sqlx.ExtContext, record *models.DistanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.distances[models.DistancePair{InstructorID: record.InstructorID, UnitID: record.UnitID}.Key()] = *record
	return nil
}

type fakeAssignments struct{ *world }

func (f fakeAssignments) GetCurrent(_ context.Context, _ sqlx.ExtContext, slotID, instructorID string) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.find(slotID, instructorID)
	if a == nil {
		return nil, sql.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f fakeAssignments) Insert(_ context.Context, _ sqlx.ExtContext, a *models.Assignment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.find(a.SlotID, a.InstructorID); existing != nil && existing.HoldsPair() {
		return false, nil
	}
	f.seq++
	if a.ID == "" {
		a.ID = fmt.Sprintf("a-%d", f.seq)
	}
	if a.State == "" {
		a.State = models.AssignmentPending
	}
	if a.Classification == "" {
		a.Classification = models.ClassificationTemporary
	}
	stored := *a
	f.assignments = append(f.assignments, &stored)
	return true, nil
}

func (f fakeAssignments) CountLive(_ context.Context, _ sqlx.ExtContext, slotID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveCount(slotID), nil
}

func (f fakeAssignments) CancelLive(_ context.Context, _ sqlx.ExtContext, slotID, instructorID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.assignments {
		if a.SlotID == slotID && a.InstructorID == instructorID && a.IsLive() {
			a.State = models.AssignmentCanceled
			n++
		}
	}
	return n, nil
}

func (f fakeAssignments) TransitionState(_ context.Context, _ sqlx.ExtContext, id string, from, to models.AssignmentState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.byID(id)
	if a == nil || a.State != from {
		return false, nil
	}
	a.State = to
	return true, nil
}

func (f fakeAssignments) Confirm(_ context.Context, _ sqlx.ExtContext, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.byID(id)
	if a == nil || a.State != models.AssignmentAccepted || a.Classification != models.ClassificationTemporary {
		return false, nil
	}
	a.Classification = models.ClassificationConfirmed
	return true, nil
}

func (f fakeAssignments) SetMessageSent(_ context.Context, _ sqlx.ExtContext, id string, sent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.byID(id)
	if a == nil {
		return sql.ErrNoRows
	}
	a.MessageSent = sent
	return nil
}

func (f fakeAssignments) SetRole(_ context.Context, _ sqlx.ExtContext, id string, role *models.AssignmentRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.byID(id)
	if a == nil {
		return sql.ErrNoRows
	}
	a.Role = role
	return nil
}

func (f fakeAssignments) ClearUnitHead(_ context.Context, _ sqlx.ExtContext, unitID, exceptID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.assignments {
		if a.UnitID == unitID && a.ID != exceptID && a.IsLive() && a.Role != nil && *a.Role == models.RoleHead {
			a.Role = nil
			n++
		}
	}
	return n, nil
}

func (f fakeAssignments) ListHeldByDateRange(_ context.Context, _ sqlx.ExtContext, start, end string) ([]models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Assignment{}
	for _, a := range f.assignments {
		if a.HoldsPair() && a.Date >= start && a.Date <= end {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f fakeAssignments) List(_ context.Context, filter models.AssignmentFilter) ([]models.AssignmentDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.AssignmentDetail{}
	for _, a := range f.assignments {
		if a.Date < filter.Start || a.Date > filter.End {
			continue
		}
		if filter.UnitID != "" && a.UnitID != filter.UnitID {
			continue
		}
		out = append(out, models.AssignmentDetail{Assignment: *a, UnitName: f.units[a.UnitID].Name})
	}
	return out, len(out), nil
}

// liveHeads counts live HEAD assignments per unit.
func (w *world) liveHeads() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	heads := map[string]int{}
	for _, a := range w.assignments {
		if a.IsLive() && a.Role != nil && *a.Role == models.RoleHead {
			heads[a.UnitID]++
		}
	}
	return heads
}

// heldPairs counts non-canceled assignments per (slot, instructor).
func (w *world) heldPairs() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	pairs := map[string]int{}
	for _, a := range w.assignments {
		if a.HoldsPair() {
			pairs[a.SlotID+"|"+a.InstructorID]++
		}
	}
	return pairs
}

type fakeUsageCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeUsageCounter) TryIncrement(_ context.Context, day string, limit int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, false, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	if f.counts[day] >= limit {
		return f.counts[day], false, nil
	}
	f.counts[day]++
	return f.counts[day], true, nil
}

func (f *fakeUsageCounter) Count(_ context.Context, day string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[day], f.err
}

type fakeRouter struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (f *fakeRouter) Lookup(_ context.Context, origin, dest routing.Location) (*routing.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[dest.Address] {
		return nil, fmt.Errorf("provider timeout")
	}
	return &routing.Route{DistanceMeters: 12000 + f.calls, DurationSeconds: 900}, nil
}

type memCacheRepo struct {
	store map[string][]byte
}

func (m *memCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (m *memCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if m.store == nil {
		m.store = map[string][]byte{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = payload
	return nil
}

func (m *memCacheRepo) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.store, k)
	}
	return nil
}

// newTxDB returns a sqlmock-backed database expecting n committed transactions.
func newTxDB(t *testing.T, n int) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	return sqlx.NewDb(db, "sqlmock"), mock
}

func rolePtr(r models.AssignmentRole) *models.AssignmentRole { return &r }

func boolPtr(b bool) *bool { return &b }

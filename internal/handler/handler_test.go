package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/middleware"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/internal/service"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/export"
	"github.com/noah-isme/instructor-dispatch-api/pkg/jobs"
)

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func perform(t *testing.T, router *gin.Engine, method, path string, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

type stubMatcher struct {
	start, end string
	err        error
}

func (s *stubMatcher) ProposeAssignments(_ context.Context, start, end string) (*dto.ProposeResult, error) {
	s.start, s.end = start, end
	if s.err != nil {
		return nil, s.err
	}
	return &dto.ProposeResult{Created: 2, Assignments: []models.Assignment{}}, nil
}

type stubChangeSets struct {
	got    dto.ChangeSet
	result *dto.ChangeSetResult
	err    error
}

func (s *stubChangeSets) Apply(_ context.Context, cs dto.ChangeSet) (*dto.ChangeSetResult, error) {
	s.got = cs
	return s.result, s.err
}

type stubCandidates struct{}

func (stubCandidates) GetCandidates(_ context.Context, start, end string) (*dto.CandidatesResult, error) {
	return &dto.CandidatesResult{Slots: []dto.SlotCandidates{{Slot: models.OpenSlot{Slot: models.Slot{ID: "s1", Date: start}}}}}, nil
}

func newDispatchRouter(matcher matcherService, changes changeSetService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDispatchHandler(matcher, changes, stubCandidates{}, nil)
	r := gin.New()
	r.Use(middleware.Metrics(service.NewMetricsService()))
	r.POST("/assignments/propose", h.Propose)
	r.POST("/assignments/changeset", h.ApplyChangeSet)
	r.GET("/candidates", h.Candidates)
	return r
}

func TestProposeBindsRange(t *testing.T) {
	matcher := &stubMatcher{}
	router := newDispatchRouter(matcher, &stubChangeSets{})

	w, env := perform(t, router, http.MethodPost, "/assignments/propose", `{"start":"2026-04-01","end":"2026-04-07"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-04-01", matcher.start)
	assert.Equal(t, "2026-04-07", matcher.end)
	assert.JSONEq(t, `{"created":2,"skipped":0,"assignments":[]}`, string(env.Data))
}

func TestProposeValidation(t *testing.T) {
	router := newDispatchRouter(&stubMatcher{}, &stubChangeSets{})

	w, env := perform(t, router, http.MethodPost, "/assignments/propose", `{"start":"04/01/2026","end":"2026-04-07"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)

	w, _ = perform(t, router, http.MethodPost, "/assignments/propose", `{"start":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProposeMapsServiceErrors(t *testing.T) {
	router := newDispatchRouter(&stubMatcher{err: appErrors.Clone(appErrors.ErrInvalidRange, "start must not be after end")}, &stubChangeSets{})

	w, env := perform(t, router, http.MethodPost, "/assignments/propose", `{"start":"2026-04-07","end":"2026-04-01"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RANGE", env.Error.Code)

	router = newDispatchRouter(&stubMatcher{err: errors.New("db gone")}, &stubChangeSets{})
	w, env = perform(t, router, http.MethodPost, "/assignments/propose", `{"start":"2026-04-01","end":"2026-04-01"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, appErrors.ErrInternal.Code, env.Error.Code)
}

func TestApplyChangeSetReturnsPartialOnCategoryFailures(t *testing.T) {
	changes := &stubChangeSets{result: &dto.ChangeSetResult{
		Added:    1,
		Failures: []dto.CategoryFailure{{Category: dto.CategoryStates, Code: "PRECONDITION_FAILED", Message: "message not yet sent"}},
	}}
	router := newDispatchRouter(&stubMatcher{}, changes)

	body := `{"atomic":false,"add":[{"slotId":"s1","instructorId":"i1","role":"HEAD"}],"stateChanges":[{"slotId":"s1","instructorId":"i2","state":"ACCEPTED"}]}`
	w, env := perform(t, router, http.MethodPost, "/assignments/changeset", body)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Equal(t, float64(1), env.Meta["failedCategories"])
	assert.False(t, changes.got.IsAtomic())
	require.Len(t, changes.got.Add, 1)
	assert.Equal(t, models.RoleHead, *changes.got.Add[0].Role)
}

func TestApplyChangeSetValidatesEntries(t *testing.T) {
	router := newDispatchRouter(&stubMatcher{}, &stubChangeSets{result: &dto.ChangeSetResult{}})

	w, env := perform(t, router, http.MethodPost, "/assignments/changeset", `{"stateChanges":[{"slotId":"s1","instructorId":"i1","state":"CANCELED"}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Message, "oneof")

	w, _ = perform(t, router, http.MethodPost, "/assignments/changeset", `{"add":[{"slotId":"s1"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = perform(t, router, http.MethodPost, "/assignments/changeset", `{"remove":[{"slotId":"s1","instructorId":"i1"}]}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApplyChangeSetSurfacesPreconditionFailure(t *testing.T) {
	router := newDispatchRouter(&stubMatcher{}, &stubChangeSets{err: appErrors.Clone(appErrors.ErrPreconditionFailed, "message not yet sent")})

	w, env := perform(t, router, http.MethodPost, "/assignments/changeset", `{"stateChanges":[{"slotId":"s1","instructorId":"i1","state":"ACCEPTED"}]}`)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "PRECONDITION_FAILED", env.Error.Code)
}

func TestCandidatesRequiresRange(t *testing.T) {
	router := newDispatchRouter(&stubMatcher{}, &stubChangeSets{})

	w, _ := perform(t, router, http.MethodGet, "/candidates?start=2026-04-01", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := perform(t, router, http.MethodGet, "/candidates?start=2026-04-01&end=2026-04-02", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), env.Meta["slots"])
}

type stubAssignments struct {
	lastResponse string
	lastSent     *bool
	listQuery    dto.AssignmentListQuery
	err          error
}

func (s *stubAssignments) Respond(_ context.Context, slotID, instructorID, resp string) (*models.Assignment, error) {
	s.lastResponse = resp
	if s.err != nil {
		return nil, s.err
	}
	return &models.Assignment{SlotID: slotID, InstructorID: instructorID, State: models.AssignmentAccepted, Classification: models.ClassificationTemporary}, nil
}

func (s *stubAssignments) Cancel(_ context.Context, slotID, instructorID string) (*models.Assignment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Assignment{SlotID: slotID, InstructorID: instructorID, State: models.AssignmentCanceled}, nil
}

func (s *stubAssignments) Confirm(_ context.Context, slotID, instructorID string) (*models.Assignment, error) {
	return &models.Assignment{SlotID: slotID, InstructorID: instructorID, Classification: models.ClassificationConfirmed}, s.err
}

func (s *stubAssignments) MarkMessageSent(_ context.Context, slotID, instructorID string, sent *bool) (*models.Assignment, error) {
	s.lastSent = sent
	return &models.Assignment{SlotID: slotID, InstructorID: instructorID, MessageSent: true}, nil
}

func (s *stubAssignments) List(_ context.Context, q dto.AssignmentListQuery) ([]models.AssignmentDetail, *models.Pagination, error) {
	s.listQuery = q
	return []models.AssignmentDetail{}, &models.Pagination{Page: 1, PageSize: 50}, nil
}

func (s *stubAssignments) ExportRoster(_ context.Context, q dto.AssignmentListQuery) ([]byte, string, export.Format, error) {
	s.listQuery = q
	return []byte("Date,Unit\n"), "roster.csv", export.FormatCSV, nil
}

func newAssignmentRouter(svc assignmentService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAssignmentHandler(svc, nil)
	r := gin.New()
	r.GET("/assignments", h.List)
	r.GET("/assignments/export", h.Export)
	r.POST("/assignments/respond", h.Respond)
	r.POST("/assignments/cancel", h.Cancel)
	r.POST("/assignments/confirm", h.Confirm)
	r.POST("/assignments/message-sent", h.MessageSent)
	return r
}

func TestRespondPassesTokenThrough(t *testing.T) {
	svc := &stubAssignments{}
	router := newAssignmentRouter(svc)

	w, env := perform(t, router, http.MethodPost, "/assignments/respond", `{"slotId":"s1","instructorId":"i1","response":"accept"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accept", svc.lastResponse)
	var a models.Assignment
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, models.AssignmentAccepted, a.State)
	assert.Equal(t, models.ClassificationTemporary, a.Classification)

	w, _ = perform(t, router, http.MethodPost, "/assignments/respond", `{"slotId":"s1","response":"accept"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondConflictStatus(t *testing.T) {
	router := newAssignmentRouter(&stubAssignments{err: appErrors.Clone(appErrors.ErrConflictingState, "cannot respond to assignment in state CANCELED")})

	w, env := perform(t, router, http.MethodPost, "/assignments/respond", `{"slotId":"s1","instructorId":"i1","response":"ACCEPT"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICTING_STATE", env.Error.Code)

	w, _ = perform(t, router, http.MethodPost, "/assignments/cancel", `{"slotId":"s1","instructorId":"i1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMessageSentDefaultsSentToNil(t *testing.T) {
	svc := &stubAssignments{}
	router := newAssignmentRouter(svc)

	w, _ := perform(t, router, http.MethodPost, "/assignments/message-sent", `{"slotId":"s1","instructorId":"i1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, svc.lastSent)

	w, _ = perform(t, router, http.MethodPost, "/assignments/message-sent", `{"slotId":"s1","instructorId":"i1","sent":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastSent)
	assert.False(t, *svc.lastSent)
}

func TestListBindsFilters(t *testing.T) {
	svc := &stubAssignments{}
	router := newAssignmentRouter(svc)

	w, _ := perform(t, router, http.MethodGet, "/assignments?start=2026-04-01&end=2026-04-30&unitId=u1&state=PENDING&state=ACCEPTED&page=2&pageSize=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", svc.listQuery.UnitID)
	assert.Equal(t, []string{"PENDING", "ACCEPTED"}, svc.listQuery.States)
	assert.Equal(t, 2, svc.listQuery.Page)

	w, _ = perform(t, router, http.MethodGet, "/assignments?start=2026-04-01&end=2026-04-30&state=LOST", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportStreamsAttachment(t *testing.T) {
	router := newAssignmentRouter(&stubAssignments{})

	w, _ := perform(t, router, http.MethodGet, "/assignments/export?start=2026-04-01&end=2026-04-30&format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="roster.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Date,Unit\n", w.Body.String())

	w, _ = perform(t, router, http.MethodGet, "/assignments/export?start=2026-04-01&end=2026-04-30&format=docx", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type stubDistances struct {
	backfillPairs []models.DistancePair
	rangeCalled   bool
	result        *dto.BackfillResult
	err           error
}

func (s *stubDistances) Get(_ context.Context, instructorID, unitID string) (*models.DistanceRecord, error) {
	if instructorID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "instructorId and unitId are required")
	}
	return &models.DistanceRecord{InstructorID: instructorID, UnitID: unitID, DistanceMeters: 5000}, nil
}

func (s *stubDistances) WithinForInstructor(_ context.Context, _ string, minKm, maxKm float64) ([]string, error) {
	if minKm > maxKm {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, "bad range")
	}
	return []string{"u1"}, nil
}

func (s *stubDistances) WithinForUnit(_ context.Context, _ string, _, _ float64) ([]string, error) {
	return []string{"i1"}, nil
}

func (s *stubDistances) Backfill(_ context.Context, pairs []models.DistancePair, _ int) (*dto.BackfillResult, error) {
	s.backfillPairs = pairs
	return s.result, s.err
}

func (s *stubDistances) BackfillRange(_ context.Context, _, _ string, _ int) (*dto.BackfillResult, error) {
	s.rangeCalled = true
	return s.result, s.err
}

type stubUsage struct{}

func (stubUsage) DailyUsage(context.Context) (*models.DailyUsage, error) {
	return &models.DailyUsage{Day: "2026-04-01", Count: 3, Limit: 10, Remaining: 7}, nil
}

func newDistanceRouter(svc distanceService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDistanceHandler(svc, stubUsage{}, nil)
	r := gin.New()
	r.GET("/distances", h.Get)
	r.GET("/distances/usage", h.Usage)
	r.GET("/distances/instructors/:id/units", h.UnitsWithin)
	r.GET("/distances/units/:id/instructors", h.InstructorsWithin)
	r.POST("/distances/backfill", h.Backfill)
	return r
}

func TestDistanceWithinRejectsBadRange(t *testing.T) {
	router := newDistanceRouter(&stubDistances{})

	w, env := perform(t, router, http.MethodGet, "/distances/instructors/i1/units?minKm=50&maxKm=10", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RANGE", env.Error.Code)

	w, env = perform(t, router, http.MethodGet, "/distances/instructors/i1/units?minKm=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RANGE", env.Error.Code)

	w, _ = perform(t, router, http.MethodGet, "/distances/units/u1/instructors?maxKm=10", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBackfillReportsQuotaExhaustionAsSuccess(t *testing.T) {
	svc := &stubDistances{result: &dto.BackfillResult{Requested: 3, Computed: 1, QuotaExhausted: true,
		Unresolved: []models.DistancePair{{InstructorID: "i1", UnitID: "u2"}, {InstructorID: "i1", UnitID: "u3"}}}}
	router := newDistanceRouter(svc)

	w, env := perform(t, router, http.MethodPost, "/distances/backfill", `{"pairs":[{"instructorId":"i1","unitId":"u1"}],"limit":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, env.Meta["quotaExhausted"])
	warning, ok := env.Meta["warning"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "QUOTA_EXHAUSTED", warning["code"])
	assert.Equal(t, "2 pairs left unresolved", warning["message"])
	assert.Len(t, svc.backfillPairs, 1)

	w, _ = perform(t, router, http.MethodPost, "/distances/backfill", `{"start":"2026-04-01","end":"2026-04-02","limit":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.rangeCalled)

	w, env = perform(t, router, http.MethodPost, "/distances/backfill", `{"limit":5}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)
}

func TestBackfillPartialOnCounterFailure(t *testing.T) {
	svc := &stubDistances{result: &dto.BackfillResult{Requested: 1}, err: appErrors.Internal(errors.New("redis"), "failed to update routing quota")}
	router := newDistanceRouter(svc)

	w, env := perform(t, router, http.MethodPost, "/distances/backfill", `{"pairs":[{"instructorId":"i1","unitId":"u1"}],"limit":5}`)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.NotNil(t, env.Meta["error"])
}

func TestUsageAndGet(t *testing.T) {
	router := newDistanceRouter(&stubDistances{})

	w, env := perform(t, router, http.MethodGet, "/distances/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"day":"2026-04-01","count":3,"limit":10,"remaining":7}`, string(env.Data))

	w, _ = perform(t, router, http.MethodGet, "/distances?unitId=u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fixedQueue struct{}

func (fixedQueue) Stats() jobs.Stats { return jobs.Stats{Processed: 4} }

func TestReadyReportsDegradedDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(service.NewMetricsService(), map[string]Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, fixedQueue{})
	r := gin.New()
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	r.GET("/health", h.Health)

	w, _ := perform(t, r, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]interface{}{"postgres": "ok", "redis": "connection refused"}, body["dependencies"])

	w, _ = perform(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = perform(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goroutines_total")
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/response"
)

type matcherService interface {
	ProposeAssignments(ctx context.Context, start, end string) (*dto.ProposeResult, error)
}

type changeSetService interface {
	Apply(ctx context.Context, cs dto.ChangeSet) (*dto.ChangeSetResult, error)
}

type candidateService interface {
	GetCandidates(ctx context.Context, start, end string) (*dto.CandidatesResult, error)
}

// DispatchHandler exposes the matcher, the change-set editor and the candidate resolver.
type DispatchHandler struct {
	matcher    matcherService
	changes    changeSetService
	candidates candidateService
	validate   *validator.Validate
}

// NewDispatchHandler constructs the handler.
func NewDispatchHandler(matcher matcherService, changes changeSetService, candidates candidateService, validate *validator.Validate) *DispatchHandler {
	return &DispatchHandler{matcher: matcher, changes: changes, candidates: candidates, validate: newValidator(validate)}
}

// Propose godoc
// @Summary Run the auto-assignment matcher
// @Description Fills open slots in the date range with the nearest eligible instructors.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.ProposeRequest true "Date range"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/propose [post]
func (h *DispatchHandler) Propose(c *gin.Context) {
	if h.matcher == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "matcher not configured"))
		return
	}
	var req dto.ProposeRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.matcher.ProposeAssignments(c.Request.Context(), req.Start, req.End)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ApplyChangeSet godoc
// @Summary Apply a batch of manual edits
// @Description Categories are processed in the order add, remove, roleChanges, staffLockChanges, stateChanges.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.ChangeSet true "Change set"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /assignments/changeset [post]
func (h *DispatchHandler) ApplyChangeSet(c *gin.Context) {
	if h.changes == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "change set service not configured"))
		return
	}
	var req dto.ChangeSet
	if err := bindJSON(c, h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.changes.Apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(result.Failures) > 0 {
		response.Partial(c, result, map[string]interface{}{"failedCategories": len(result.Failures)})
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Candidates godoc
// @Summary List open slots with eligible candidates
// @Tags Candidates
// @Produce json
// @Param start query string true "Range start (YYYY-MM-DD)"
// @Param end query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /candidates [get]
func (h *DispatchHandler) Candidates(c *gin.Context) {
	if h.candidates == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "candidate service not configured"))
		return
	}
	var q dto.DateRangeQuery
	if err := bindQuery(c, h.validate, &q); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.candidates.GetCandidates(c.Request.Context(), q.Start, q.End)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, map[string]interface{}{"slots": len(result.Slots)})
}

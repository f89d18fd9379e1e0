package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/response"
)

type distanceService interface {
	Get(ctx context.Context, instructorID, unitID string) (*models.DistanceRecord, error)
	WithinForInstructor(ctx context.Context, instructorID string, minKm, maxKm float64) ([]string, error)
	WithinForUnit(ctx context.Context, unitID string, minKm, maxKm float64) ([]string, error)
	Backfill(ctx context.Context, pairs []models.DistancePair, limit int) (*dto.BackfillResult, error)
	BackfillRange(ctx context.Context, start, end string, limit int) (*dto.BackfillResult, error)
}

type usageReporter interface {
	DailyUsage(ctx context.Context) (*models.DailyUsage, error)
}

// DistanceHandler exposes the distance cache and its backfill.
type DistanceHandler struct {
	service  distanceService
	usage    usageReporter
	validate *validator.Validate
}

// NewDistanceHandler constructs the handler.
func NewDistanceHandler(service distanceService, usage usageReporter, validate *validator.Validate) *DistanceHandler {
	return &DistanceHandler{service: service, usage: usage, validate: newValidator(validate)}
}

// Get godoc
// @Summary Get the cached distance of an instructor/unit pair
// @Tags Distances
// @Produce json
// @Param instructorId query string true "Instructor ID"
// @Param unitId query string true "Unit ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /distances [get]
func (h *DistanceHandler) Get(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Query("instructorId"), c.Query("unitId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// UnitsWithin godoc
// @Summary List units within a distance range of an instructor
// @Tags Distances
// @Produce json
// @Param id path string true "Instructor ID"
// @Param minKm query number false "Minimum km"
// @Param maxKm query number true "Maximum km"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /distances/instructors/{id}/units [get]
func (h *DistanceHandler) UnitsWithin(c *gin.Context) {
	var q dto.WithinQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRange, "minKm and maxKm must be numbers"))
		return
	}
	ids, err := h.service.WithinForInstructor(c.Request.Context(), c.Param("id"), q.MinKm, q.MaxKm)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ids, nil)
}

// InstructorsWithin godoc
// @Summary List instructors within a distance range of a unit
// @Tags Distances
// @Produce json
// @Param id path string true "Unit ID"
// @Param minKm query number false "Minimum km"
// @Param maxKm query number true "Maximum km"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /distances/units/{id}/instructors [get]
func (h *DistanceHandler) InstructorsWithin(c *gin.Context) {
	var q dto.WithinQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRange, "minKm and maxKm must be numbers"))
		return
	}
	ids, err := h.service.WithinForUnit(c.Request.Context(), c.Param("id"), q.MinKm, q.MaxKm)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ids, nil)
}

// Backfill godoc
// @Summary Compute missing distances through the routing provider
// @Description Either pairs or a start/end range is required. Spends daily quota.
// @Tags Distances
// @Accept json
// @Produce json
// @Param payload body dto.BackfillRequest true "Backfill request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /distances/backfill [post]
func (h *DistanceHandler) Backfill(c *gin.Context) {
	var req dto.BackfillRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}

	var (
		result *dto.BackfillResult
		err    error
	)
	switch {
	case len(req.Pairs) > 0:
		result, err = h.service.Backfill(c.Request.Context(), req.Pairs, req.Limit)
	case req.Start != "" && req.End != "":
		result, err = h.service.BackfillRange(c.Request.Context(), req.Start, req.End, req.Limit)
	default:
		err = appErrors.Clone(appErrors.ErrInvalidArgument, "pairs or start/end are required")
	}
	if err != nil && result == nil {
		response.Error(c, err)
		return
	}

	meta := map[string]interface{}{"quotaExhausted": result.QuotaExhausted}
	if result.QuotaExhausted {
		meta["warning"] = appErrors.Clone(appErrors.ErrQuotaExhausted, fmt.Sprintf("%d pairs left unresolved", len(result.Unresolved)))
	}
	if err != nil {
		meta["error"] = appErrors.FromError(err)
		response.Partial(c, result, meta)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, meta)
}

// Usage godoc
// @Summary Report today's routing quota usage
// @Tags Distances
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /distances/usage [get]
func (h *DistanceHandler) Usage(c *gin.Context) {
	if h.usage == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "quota service not configured"))
		return
	}
	usage, err := h.usage.DailyUsage(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, usage, nil)
}

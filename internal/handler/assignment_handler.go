package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/instructor-dispatch-api/internal/dto"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/export"
	"github.com/noah-isme/instructor-dispatch-api/pkg/response"
)

type assignmentService interface {
	Respond(ctx context.Context, slotID, instructorID, response string) (*models.Assignment, error)
	Cancel(ctx context.Context, slotID, instructorID string) (*models.Assignment, error)
	Confirm(ctx context.Context, slotID, instructorID string) (*models.Assignment, error)
	MarkMessageSent(ctx context.Context, slotID, instructorID string, sent *bool) (*models.Assignment, error)
	List(ctx context.Context, q dto.AssignmentListQuery) ([]models.AssignmentDetail, *models.Pagination, error)
	ExportRoster(ctx context.Context, q dto.AssignmentListQuery) ([]byte, string, export.Format, error)
}

// AssignmentHandler exposes assignment lifecycle endpoints.
type AssignmentHandler struct {
	service  assignmentService
	validate *validator.Validate
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service assignmentService, validate *validator.Validate) *AssignmentHandler {
	return &AssignmentHandler{service: service, validate: newValidator(validate)}
}

func (h *AssignmentHandler) ready(c *gin.Context) bool {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "assignment service not configured"))
		return false
	}
	return true
}

// Respond godoc
// @Summary Record an instructor response
// @Description Response is ACCEPT or REJECT, case-insensitive. Only pending assignments accept a response.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.RespondRequest true "Response"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/respond [post]
func (h *AssignmentHandler) Respond(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req dto.RespondRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}
	assignment, err := h.service.Respond(c.Request.Context(), req.SlotID, req.InstructorID, req.Response)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Cancel godoc
// @Summary Cancel a pending or accepted assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.AssignmentKey true "Assignment key"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/cancel [post]
func (h *AssignmentHandler) Cancel(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req dto.AssignmentKey
	if err := bindJSON(c, h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}
	assignment, err := h.service.Cancel(c.Request.Context(), req.SlotID, req.InstructorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Confirm godoc
// @Summary Confirm an accepted temporary assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.AssignmentKey true "Assignment key"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/confirm [post]
func (h *AssignmentHandler) Confirm(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req dto.AssignmentKey
	if err := bindJSON(c, h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}
	assignment, err := h.service.Confirm(c.Request.Context(), req.SlotID, req.InstructorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// MessageSent godoc
// @Summary Report notification delivery for an assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.MessageSentRequest true "Delivery report"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/message-sent [post]
func (h *AssignmentHandler) MessageSent(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req dto.MessageSentRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}
	assignment, err := h.service.MarkMessageSent(c.Request.Context(), req.SlotID, req.InstructorID, req.Sent)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// List godoc
// @Summary List assignments in a date range
// @Tags Assignments
// @Produce json
// @Param start query string true "Range start (YYYY-MM-DD)"
// @Param end query string true "Range end (YYYY-MM-DD)"
// @Param unitId query string false "Unit filter"
// @Param instructorId query string false "Instructor filter"
// @Param state query []string false "State filter" collectionFormat(multi)
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var q dto.AssignmentListQuery
	if err := bindQuery(c, h.validate, &q); err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Export godoc
// @Summary Export the assignment roster
// @Tags Assignments
// @Produce text/csv
// @Produce application/pdf
// @Param start query string true "Range start (YYYY-MM-DD)"
// @Param end query string true "Range end (YYYY-MM-DD)"
// @Param unitId query string false "Unit filter"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /assignments/export [get]
func (h *AssignmentHandler) Export(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var q dto.AssignmentListQuery
	if err := bindQuery(c, h.validate, &q); err != nil {
		response.Error(c, err)
		return
	}
	body, filename, format, err := h.service.ExportRoster(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, format.ContentType(), body)
}

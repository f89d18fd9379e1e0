package dto

import "github.com/noah-isme/instructor-dispatch-api/internal/models"

// DateRangeQuery carries an inclusive date range from query params or JSON.
type DateRangeQuery struct {
	Start string `form:"start" json:"start" validate:"required,datetime=2006-01-02"`
	End   string `form:"end" json:"end" validate:"required,datetime=2006-01-02"`
}

// ProposeRequest triggers an auto-assignment run.
type ProposeRequest struct {
	DateRangeQuery
}

// QuotaWarning reports an advisory category quota the matcher could not satisfy.
type QuotaWarning struct {
	SlotID   string                    `json:"slotId"`
	UnitID   string                    `json:"unitId"`
	Date     string                    `json:"date"`
	Category models.InstructorCategory `json:"category"`
	Required int                       `json:"required"`
	Filled   int                       `json:"filled"`
}

// ProposeResult summarises an auto-assignment run. Created counts assignments;
// Skipped counts slots that received no fill.
type ProposeResult struct {
	Created     int                 `json:"created"`
	Skipped     int                 `json:"skipped"`
	Assignments []models.Assignment `json:"assignments"`
	Warnings    []QuotaWarning      `json:"warnings,omitempty"`
	Interrupted bool                `json:"interrupted,omitempty"`
}

// AssignmentKey addresses an assignment by its natural key.
type AssignmentKey struct {
	SlotID       string `json:"slotId" validate:"required"`
	InstructorID string `json:"instructorId" validate:"required"`
}

// RespondRequest records an instructor response.
type RespondRequest struct {
	AssignmentKey
	Response string `json:"response" validate:"required"`
}

// MessageSentRequest is the notification collaborator's delivery report.
type MessageSentRequest struct {
	AssignmentKey
	Sent *bool `json:"sent"`
}

// AssignmentListQuery filters assignment listings and roster exports.
type AssignmentListQuery struct {
	DateRangeQuery
	UnitID       string   `form:"unitId" json:"unitId"`
	InstructorID string   `form:"instructorId" json:"instructorId"`
	States       []string `form:"state" json:"states" validate:"omitempty,dive,oneof=PENDING ACCEPTED REJECTED CANCELED"`
	Page         int      `form:"page" json:"page" validate:"omitempty,min=1"`
	PageSize     int      `form:"pageSize" json:"pageSize" validate:"omitempty,min=1,max=500"`
	Format       string   `form:"format" json:"format" validate:"omitempty,oneof=csv pdf"`
}

// Candidate is an eligible instructor for a slot with the cached distance when known.
type Candidate struct {
	Instructor      models.Instructor `json:"instructor"`
	DistanceKm      *float64          `json:"distanceKm,omitempty"`
	DurationSeconds *int              `json:"durationSeconds,omitempty"`
}

// SlotCandidates lists the eligible candidates and existing assignments of one open slot.
type SlotCandidates struct {
	Slot        models.OpenSlot     `json:"slot"`
	Remaining   int                 `json:"remaining"`
	StaffLocked bool                `json:"staffLocked"`
	Candidates  []Candidate         `json:"candidates"`
	Existing    []models.Assignment `json:"existing"`
}

// CandidatesResult is the candidate resolver output.
type CandidatesResult struct {
	Slots       []SlotCandidates    `json:"slots"`
	Instructors []models.Instructor `json:"instructors"`
}

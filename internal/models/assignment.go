package models

import (
	"strings"
	"time"
)

// AssignmentState tracks the instructor response lifecycle.
type AssignmentState string

const (
	AssignmentPending  AssignmentState = "PENDING"
	AssignmentAccepted AssignmentState = "ACCEPTED"
	AssignmentRejected AssignmentState = "REJECTED"
	AssignmentCanceled AssignmentState = "CANCELED"
)

// Live reports whether the state still occupies the (slot, instructor) pair.
// Only live rows count toward a slot's headcount.
func (s AssignmentState) Live() bool {
	return s == AssignmentPending || s == AssignmentAccepted
}

// HoldsPair reports whether a row in this state blocks its (slot, instructor) pair.
// A rejection stays on the pair so the instructor is not proposed again.
func (s AssignmentState) HoldsPair() bool {
	return s != "" && s != AssignmentCanceled
}

// Terminal reports whether no further transition is possible.
func (s AssignmentState) Terminal() bool {
	return s == AssignmentRejected || s == AssignmentCanceled
}

// CanTransitionTo encodes the allowed state machine edges.
func (s AssignmentState) CanTransitionTo(next AssignmentState) bool {
	switch s {
	case AssignmentPending:
		return next == AssignmentAccepted || next == AssignmentRejected || next == AssignmentCanceled
	case AssignmentAccepted:
		return next == AssignmentCanceled
	default:
		return false
	}
}

// LiveStates lists the states counted against headcount and uniqueness.
var LiveStates = []string{string(AssignmentPending), string(AssignmentAccepted)}

// Classification separates proposals from dispatcher-finalized assignments.
type Classification string

const (
	ClassificationTemporary Classification = "TEMPORARY"
	ClassificationConfirmed Classification = "CONFIRMED"
)

// AssignmentRole is the optional responsibility an instructor holds within a unit.
type AssignmentRole string

const (
	RoleHead       AssignmentRole = "HEAD"
	RoleSupervisor AssignmentRole = "SUPERVISOR"
)

// Valid reports whether the role is known.
func (r AssignmentRole) Valid() bool {
	return r == RoleHead || r == RoleSupervisor
}

// Response tokens accepted from instructors.
const (
	ResponseAccept = "ACCEPT"
	ResponseReject = "REJECT"
)

// ParseResponse maps a response token to the resulting state.
func ParseResponse(token string) (AssignmentState, bool) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case ResponseAccept:
		return AssignmentAccepted, true
	case ResponseReject:
		return AssignmentRejected, true
	default:
		return "", false
	}
}

// Assignment links an instructor to a slot. Rows are never deleted.
type Assignment struct {
	ID             string          `db:"id" json:"id"`
	SlotID         string          `db:"slot_id" json:"slotId"`
	InstructorID   string          `db:"instructor_id" json:"instructorId"`
	UnitID         string          `db:"unit_id" json:"unitId"`
	Date           string          `db:"date" json:"date"`
	State          AssignmentState `db:"state" json:"state"`
	Classification Classification  `db:"classification" json:"classification"`
	Role           *AssignmentRole `db:"role" json:"role,omitempty"`
	MessageSent    bool            `db:"message_sent" json:"messageSent"`
	CreatedBy      string          `db:"created_by" json:"createdBy"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsLive reports whether the assignment counts toward its slot headcount.
func (a Assignment) IsLive() bool {
	return a.State.Live()
}

// HoldsPair reports whether the row blocks another assignment for its pair.
func (a Assignment) HoldsPair() bool {
	return a.State.HoldsPair()
}

// AssignmentDetail enriches assignments for listing and roster export.
type AssignmentDetail struct {
	Assignment
	UnitName           string             `db:"unit_name" json:"unitName"`
	LocationName       string             `db:"location_name" json:"locationName"`
	InstructorName     string             `db:"instructor_name" json:"instructorName"`
	InstructorCategory InstructorCategory `db:"instructor_category" json:"instructorCategory"`
}

// AssignmentFilter narrows assignment listings.
type AssignmentFilter struct {
	Start        string
	End          string
	UnitID       string
	InstructorID string
	States       []AssignmentState
	Page         int
	PageSize     int
}

// Assignment creators recorded in created_by.
const (
	CreatedByMatcher = "matcher"
	CreatedByEditor  = "editor"
)

package dto

import "github.com/noah-isme/instructor-dispatch-api/internal/models"

// Change categories in processing order.
const (
	CategoryAdd        = "add"
	CategoryRemove     = "remove"
	CategoryRoles      = "roleChanges"
	CategoryStaffLocks = "staffLockChanges"
	CategoryStates     = "stateChanges"
)

// AddChange proposes a new assignment. Override lets a human exceed the slot headcount.
type AddChange struct {
	SlotID       string                 `json:"slotId" validate:"required"`
	InstructorID string                 `json:"instructorId" validate:"required"`
	Role         *models.AssignmentRole `json:"role" validate:"omitempty,oneof=HEAD SUPERVISOR"`
	Override     bool                   `json:"override"`
}

// RoleChange sets or clears (nil role) the role of a live assignment.
type RoleChange struct {
	SlotID       string                 `json:"slotId" validate:"required"`
	InstructorID string                 `json:"instructorId" validate:"required"`
	Role         *models.AssignmentRole `json:"role" validate:"omitempty,oneof=HEAD SUPERVISOR"`
}

// StaffLockChange flips the staff-lock flag of a unit.
type StaffLockChange struct {
	UnitID string `json:"unitId" validate:"required"`
	Locked bool   `json:"locked"`
}

// StateChange promotes an assignment. Only ACCEPTED is supported.
type StateChange struct {
	SlotID       string                 `json:"slotId" validate:"required"`
	InstructorID string                 `json:"instructorId" validate:"required"`
	State        models.AssignmentState `json:"state" validate:"required,oneof=ACCEPTED"`
}

// ChangeSet is a batch of manual edits. Atomic defaults to true, which applies
// every category in one transaction.
type ChangeSet struct {
	Add              []AddChange       `json:"add" validate:"omitempty,dive"`
	Remove           []AssignmentKey   `json:"remove" validate:"omitempty,dive"`
	RoleChanges      []RoleChange      `json:"roleChanges" validate:"omitempty,dive"`
	StaffLockChanges []StaffLockChange `json:"staffLockChanges" validate:"omitempty,dive"`
	StateChanges     []StateChange     `json:"stateChanges" validate:"omitempty,dive"`
	Atomic           *bool             `json:"atomic"`
}

// IsAtomic reports the transaction mode.
func (c ChangeSet) IsAtomic() bool {
	return c.Atomic == nil || *c.Atomic
}

// Empty reports whether the change set carries no edits.
func (c ChangeSet) Empty() bool {
	return len(c.Add) == 0 && len(c.Remove) == 0 && len(c.RoleChanges) == 0 &&
		len(c.StaffLockChanges) == 0 && len(c.StateChanges) == 0
}

// SkippedChange reports an entry that was intentionally not applied.
type SkippedChange struct {
	Category     string `json:"category"`
	SlotID       string `json:"slotId,omitempty"`
	InstructorID string `json:"instructorId,omitempty"`
	Reason       string `json:"reason"`
}

// CategoryFailure reports a category that rolled back.
type CategoryFailure struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ChangeSetResult carries per-category tallies.
type ChangeSetResult struct {
	Added             int               `json:"added"`
	Removed           int               `json:"removed"`
	RolesUpdated      int               `json:"rolesUpdated"`
	StaffLocksUpdated int               `json:"staffLocksUpdated"`
	StatesUpdated     int               `json:"statesUpdated"`
	Skipped           []SkippedChange   `json:"skipped,omitempty"`
	Failures          []CategoryFailure `json:"failures,omitempty"`
}

// Skip reasons.
const (
	SkipDuplicate      = "assignment already exists"
	SkipStaffLocked    = "unit is staff-locked"
	SkipCapacityFull   = "slot headcount reached"
	SkipNotLive        = "no live assignment"
	SkipAlreadyApplied = "already in requested state"
	SkipDeclined       = "instructor declined this slot"
)

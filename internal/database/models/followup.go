package models

import (
	"time"

	"github.com/google/uuid"
)

type FollowUpStatus string

const (
	FollowUpPending    FollowUpStatus = "pending"
	FollowUpContacted  FollowUpStatus = "contacted"
	FollowUpInProgress FollowUpStatus = "in_progress"
	FollowUpCompleted  FollowUpStatus = "completed"
	FollowUpReassigned FollowUpStatus = "reassigned"
)

// TerminalFollowUpStatuses never change again.
var TerminalFollowUpStatuses = []FollowUpStatus{FollowUpCompleted, FollowUpReassigned}

func (s FollowUpStatus) Valid() bool {
	switch s {
	case FollowUpPending, FollowUpContacted, FollowUpInProgress, FollowUpCompleted, FollowUpReassigned:
		return true
	}
	return false
}

func (s FollowUpStatus) Terminal() bool {
	return s == FollowUpCompleted || s == FollowUpReassigned
}

// FollowUpAssignment pairs a guest with the staff member responsible for
// contacting them. At most one non-terminal assignment exists per guest.
type FollowUpAssignment struct {
	Base
	TenantID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	GuestID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"guest_id"`
	StaffID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"staff_id"`
	AssignedBy      *uuid.UUID     `gorm:"type:uuid" json:"assigned_by,omitempty"`
	Status          FollowUpStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Notes           string         `gorm:"type:text" json:"-"`
	LastContactedAt *time.Time     `json:"last_contacted_at,omitempty"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	// Version counts status changes. It keys the events they produce.
	Version int `gorm:"not null;default:0" json:"version"`
}

func (FollowUpAssignment) TableName() string {
	return "follow_up_assignments"
}

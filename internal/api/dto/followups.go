package dto

import (
	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/database/models"
)

type AssignFollowUpRequest struct {
	GuestID uuid.UUID `json:"guest_id"`
	StaffID uuid.UUID `json:"staff_id"`
}

func (r AssignFollowUpRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.GuestID == uuid.Nil {
		errors["guest_id"] = "Guest is required"
	}
	if r.StaffID == uuid.Nil {
		errors["staff_id"] = "Staff member is required"
	}
	return errors
}

type UpdateFollowUpStatusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

func (r UpdateFollowUpStatusRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Status == "" {
		errors["status"] = "Status is required"
	} else if !models.FollowUpStatus(r.Status).Valid() {
		errors["status"] = "Unknown status"
	}
	if r.Notes != nil && len(*r.Notes) > validation.MaxNotesLength {
		errors["notes"] = "Notes are too long"
	}
	return errors
}

// FollowUpResponse carries the opened notes alongside the assignment.
type FollowUpResponse struct {
	*models.FollowUpAssignment
	Notes string `json:"notes,omitempty"`
}

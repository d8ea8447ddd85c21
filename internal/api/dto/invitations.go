package dto

import (
	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/database/models"
)

type IssueInvitationRequest struct {
	TargetRole     string     `json:"target_role"`
	TargetGroupID  *uuid.UUID `json:"target_group_id,omitempty"`
	DefaultStaffID *uuid.UUID `json:"default_staff_id,omitempty"`
	TTLHours       int        `json:"ttl_hours,omitempty"`
	MaxUses        int        `json:"max_uses,omitempty"`
	Label          string     `json:"label,omitempty"`
}

func (r IssueInvitationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.TargetRole == "" {
		errors["target_role"] = "Target role is required"
	}
	if r.TTLHours < 0 {
		errors["ttl_hours"] = "TTL must be positive"
	} else if r.TTLHours > validation.MaxTTLHours {
		errors["ttl_hours"] = "TTL is too long"
	}
	if r.MaxUses < 0 {
		errors["max_uses"] = "Max uses must be positive"
	}
	if len(r.Label) > validation.MaxLabelLength {
		errors["label"] = "Label is too long"
	}

	return errors
}

type InvitationResponse struct {
	*models.InvitationToken
	RemainingUses int `json:"remaining_uses"`
}

func NewInvitationResponse(tok *models.InvitationToken) InvitationResponse {
	return InvitationResponse{InvitationToken: tok, RemainingUses: tok.RemainingUses()}
}

func NewInvitationList(tokens []models.InvitationToken) []InvitationResponse {
	out := make([]InvitationResponse, len(tokens))
	for i := range tokens {
		out[i] = NewInvitationResponse(&tokens[i])
	}
	return out
}

// IssuedInvitationResponse is the only response that carries the code.
type IssuedInvitationResponse struct {
	InvitationResponse
	Code string `json:"code"`
}

type RedeemRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (r RedeemRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Code == "" {
		errors["code"] = "Code is required"
	} else if !validation.IsValidCode(r.Code) {
		errors["code"] = "Invalid code format"
	}
	if r.Name == "" {
		errors["name"] = "Name is required"
	} else if len(r.Name) > validation.MaxNameLength {
		errors["name"] = "Name is too long"
	}
	if r.Email != "" && !validation.IsValidEmail(r.Email) {
		errors["email"] = "Invalid email format"
	}

	return errors
}

type RedeemResponse struct {
	TokenResponse
	Assignment *models.FollowUpAssignment `json:"assignment,omitempty"`
}

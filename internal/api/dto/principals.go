package dto

import (
	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/api/validation"
)

type CreatePrincipalRequest struct {
	Name    string     `json:"name"`
	Email   string     `json:"email"`
	Role    string     `json:"role"`
	GroupID *uuid.UUID `json:"group_id,omitempty"`
}

func (r CreatePrincipalRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Name == "" {
		errors["name"] = "Name is required"
	} else if len(r.Name) > validation.MaxNameLength {
		errors["name"] = "Name is too long"
	}
	if r.Email != "" && !validation.IsValidEmail(r.Email) {
		errors["email"] = "Invalid email format"
	}
	if r.Role == "" {
		errors["role"] = "Role is required"
	}

	return errors
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

func (r ChangeRoleRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Role == "" {
		errors["role"] = "Role is required"
	}
	return errors
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

func (r SetStatusRequest) Validate() map[string]string {
	errors := make(map[string]string)
	switch r.Status {
	case "active", "suspended":
	case "":
		errors["status"] = "Status is required"
	default:
		errors["status"] = "Status must be active or suspended"
	}
	return errors
}

type GrantRequest struct {
	Permission string `json:"permission"`
}

func (r GrantRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Permission == "" {
		errors["permission"] = "Permission is required"
	}
	return errors
}

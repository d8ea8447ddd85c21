package dto

import (
	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
)

type BootstrapRequest struct {
	TenantName string `json:"tenant_name"`
	Slug       string `json:"slug,omitempty"`
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`
}

func (r BootstrapRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.TenantName == "" {
		errors["tenant_name"] = "Tenant name is required"
	} else if len(r.TenantName) > validation.MaxNameLength {
		errors["tenant_name"] = "Tenant name is too long"
	}
	if r.Slug != "" && !validation.IsValidSlug(r.Slug) {
		errors["slug"] = "Slug must be lowercase letters, digits and dashes"
	}
	if r.OwnerName == "" {
		errors["owner_name"] = "Owner name is required"
	}
	if r.OwnerEmail == "" {
		errors["owner_email"] = "Owner email is required"
	} else if !validation.IsValidEmail(r.OwnerEmail) {
		errors["owner_email"] = "Invalid email format"
	}

	return errors
}

// TokenResponse is returned whenever a principal is admitted.
type TokenResponse struct {
	Token     string            `json:"token"`
	Principal *models.Principal `json:"principal"`
	Tenant    *models.Tenant    `json:"tenant,omitempty"`
}

type MeResponse struct {
	Principal   *models.Principal `json:"principal"`
	Permissions []string          `json:"permissions"`
}

func NewMeResponse(p *models.Principal, perms authz.PermissionSet) MeResponse {
	sorted := perms.Sorted()
	names := make([]string, len(sorted))
	for i, perm := range sorted {
		names[i] = string(perm)
	}
	return MeResponse{Principal: p, Permissions: names}
}

type AuthorizeResponse struct {
	Action  string `json:"action"`
	Allowed bool   `json:"allowed"`
}

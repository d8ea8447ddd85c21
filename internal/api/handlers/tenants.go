package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-shepherd/internal/api/dto"
	"github.com/hugh/go-shepherd/internal/api/middleware"
	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/auth"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/directory"
)

type TenantHandler struct {
	directory *directory.Service
	tokens    auth.TokenService
	logger    *slog.Logger
}

func NewTenantHandler(dir *directory.Service, tokens auth.TokenService, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{directory: dir, tokens: tokens, logger: logger}
}

// Bootstrap handles POST /api/v1/tenants
func (h *TenantHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req dto.BootstrapRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.directory.BootstrapTenant(r.Context(), directory.BootstrapInput{
		TenantName: validation.CleanText(req.TenantName, validation.MaxNameLength),
		Slug:       req.Slug,
		OwnerName:  validation.CleanText(req.OwnerName, validation.MaxNameLength),
		OwnerEmail: req.OwnerEmail,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, err := h.tokens.GenerateToken(res.Owner.ID, res.Tenant.ID, res.Owner.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.TokenResponse{
		Token:     token,
		Principal: res.Owner,
		Tenant:    res.Tenant,
	})
}

// Get handles GET /api/v1/tenant
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.directory.GetTenant(r.Context(), middleware.GetPrincipalID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// Deactivate handles POST /api/v1/tenant/deactivate
func (h *TenantHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.directory.DeactivateTenant(r.Context(), middleware.GetPrincipalID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// Me handles GET /api/v1/me
func (h *TenantHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, perms, err := h.directory.Permissions(r.Context(), middleware.GetPrincipalID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewMeResponse(p, perms))
}

// Authorize handles GET /api/v1/authorize?action=&tenant_id=
func (h *TenantHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	action := authz.Permission(r.URL.Query().Get("action"))
	if !authz.Known(action) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{"action": "Unknown action"},
		})
		return
	}
	tenantID, err := queryID(r, "tenant_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	allowed, err := h.directory.Authorize(r.Context(), middleware.GetPrincipalID(r.Context()), action, tenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.AuthorizeResponse{Action: string(action), Allowed: allowed})
}

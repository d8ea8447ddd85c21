package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugh/go-shepherd/internal/api/dto"
	"github.com/hugh/go-shepherd/internal/api/middleware"
	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/directory"
)

type PrincipalHandler struct {
	directory *directory.Service
	logger    *slog.Logger
}

func NewPrincipalHandler(dir *directory.Service, logger *slog.Logger) *PrincipalHandler {
	return &PrincipalHandler{directory: dir, logger: logger}
}

// List handles GET /api/v1/principals
func (h *PrincipalHandler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination(r)
	principals, total, err := h.directory.ListPrincipals(r.Context(), middleware.GetPrincipalID(r.Context()), directory.PrincipalFilter{
		Role:   authz.Role(r.URL.Query().Get("role")),
		Status: models.PrincipalStatus(r.URL.Query().Get("status")),
		Limit:  page.PerPage,
		Offset: page.Offset(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Paginate(principals, total, page))
}

// Create handles POST /api/v1/principals
func (h *PrincipalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreatePrincipalRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.directory.CreatePrincipal(r.Context(), middleware.GetPrincipalID(r.Context()), directory.CreatePrincipalInput{
		Name:    validation.CleanText(req.Name, validation.MaxNameLength),
		Email:   req.Email,
		Role:    authz.Role(req.Role),
		GroupID: req.GroupID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /api/v1/principals/{id}
func (h *PrincipalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.directory.GetPrincipal(r.Context(), middleware.GetPrincipalID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ChangeRole handles PUT /api/v1/principals/{id}/role
func (h *PrincipalHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req dto.ChangeRoleRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.directory.ChangeRole(r.Context(), middleware.GetPrincipalID(r.Context()), id, authz.Role(req.Role))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetStatus handles PUT /api/v1/principals/{id}/status
func (h *PrincipalHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req dto.SetStatusRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.directory.SetStatus(r.Context(), middleware.GetPrincipalID(r.Context()), id, models.PrincipalStatus(req.Status))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Grant handles POST /api/v1/principals/{id}/grants
func (h *PrincipalHandler) Grant(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req dto.GrantRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.directory.Grant(r.Context(), middleware.GetPrincipalID(r.Context()), id, authz.Permission(req.Permission))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Revoke handles DELETE /api/v1/principals/{id}/grants/{permission}
func (h *PrincipalHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	perm := authz.Permission(chi.URLParam(r, "permission"))
	p, err := h.directory.RevokeGrant(r.Context(), middleware.GetPrincipalID(r.Context()), id, perm)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugh/go-shepherd/internal/api/dto"
	"github.com/hugh/go-shepherd/internal/api/middleware"
	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/auth"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/invitation"
)

type InvitationHandler struct {
	invitations *invitation.Service
	tokens      auth.TokenService
	logger      *slog.Logger
}

func NewInvitationHandler(invitations *invitation.Service, tokens auth.TokenService, logger *slog.Logger) *InvitationHandler {
	return &InvitationHandler{invitations: invitations, tokens: tokens, logger: logger}
}

// List handles GET /api/v1/invitations
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination(r)
	tokens, total, err := h.invitations.List(r.Context(), middleware.GetPrincipalID(r.Context()), invitation.ListFilter{
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Limit:      page.PerPage,
		Offset:     page.Offset(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Paginate(dto.NewInvitationList(tokens), total, page))
}

// Issue handles POST /api/v1/invitations
func (h *InvitationHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req dto.IssueInvitationRequest
	if !decode(w, r, &req) {
		return
	}

	tok, err := h.invitations.Issue(r.Context(), middleware.GetPrincipalID(r.Context()), invitation.IssueInput{
		TargetRole:     authz.Role(req.TargetRole),
		TargetGroupID:  req.TargetGroupID,
		DefaultStaffID: req.DefaultStaffID,
		TTL:            time.Duration(req.TTLHours) * time.Hour,
		MaxUses:        req.MaxUses,
		Label:          validation.CleanText(req.Label, validation.MaxLabelLength),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.IssuedInvitationResponse{InvitationResponse: dto.NewInvitationResponse(tok), Code: tok.Code})
}

// Get handles GET /api/v1/invitations/{id}
func (h *InvitationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	tok, err := h.invitations.Get(r.Context(), middleware.GetPrincipalID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewInvitationResponse(tok))
}

// Deactivate handles POST /api/v1/invitations/{id}/deactivate
func (h *InvitationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	tok, err := h.invitations.Deactivate(r.Context(), middleware.GetPrincipalID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewInvitationResponse(tok))
}

// Preview handles GET /api/v1/invitations/preview/{code}
func (h *InvitationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !validation.IsValidCode(code) {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Invitation not found"})
		return
	}
	preview, err := h.invitations.Peek(r.Context(), code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Redeem handles POST /api/v1/invitations/redeem
func (h *InvitationHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req dto.RedeemRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.invitations.Redeem(r.Context(), req.Code, invitation.NewPrincipalInfo{
		Name:  validation.CleanText(req.Name, validation.MaxNameLength),
		Email: req.Email,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, err := h.tokens.GenerateToken(res.Principal.ID, res.Principal.TenantID, res.Principal.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.RedeemResponse{
		TokenResponse: dto.TokenResponse{Token: token, Principal: res.Principal},
		Assignment:    res.Assignment,
	})
}

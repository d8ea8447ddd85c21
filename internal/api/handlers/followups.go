package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-shepherd/internal/api/dto"
	"github.com/hugh/go-shepherd/internal/api/middleware"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/followup"
)

type FollowUpHandler struct {
	followups *followup.Service
	logger    *slog.Logger
}

func NewFollowUpHandler(followups *followup.Service, logger *slog.Logger) *FollowUpHandler {
	return &FollowUpHandler{followups: followups, logger: logger}
}

// List handles GET /api/v1/followups
func (h *FollowUpHandler) List(w http.ResponseWriter, r *http.Request) {
	guestID, err := queryID(r, "guest_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	staffID, err := queryID(r, "staff_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page := pagination(r)
	items, total, err := h.followups.List(r.Context(), middleware.GetPrincipalID(r.Context()), followup.Filter{
		GuestID:  guestID,
		StaffID:  staffID,
		Status:   models.FollowUpStatus(r.URL.Query().Get("status")),
		OpenOnly: r.URL.Query().Get("open") == "true",
		Limit:    page.PerPage,
		Offset:   page.Offset(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Paginate(items, total, page))
}

// Assign handles POST /api/v1/followups
func (h *FollowUpHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req dto.AssignFollowUpRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.followups.Assign(r.Context(), middleware.GetPrincipalID(r.Context()), req.GuestID, req.StaffID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.response(a))
}

// Get handles GET /api/v1/followups/{id}
func (h *FollowUpHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.followups.Get(r.Context(), middleware.GetPrincipalID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(a))
}

// UpdateStatus handles PUT /api/v1/followups/{id}/status
func (h *FollowUpHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req dto.UpdateFollowUpStatusRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.followups.UpdateStatus(r.Context(), middleware.GetPrincipalID(r.Context()), id, models.FollowUpStatus(req.Status), req.Notes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(a))
}

func (h *FollowUpHandler) response(a *models.FollowUpAssignment) dto.FollowUpResponse {
	notes, err := h.followups.Notes(a)
	if err != nil {
		h.logger.Warn("failed to open follow-up notes", "assignment_id", a.ID, "error", err)
	}
	return dto.FollowUpResponse{FollowUpAssignment: a, Notes: notes}
}

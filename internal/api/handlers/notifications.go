package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-shepherd/internal/api/dto"
	"github.com/hugh/go-shepherd/internal/api/middleware"
	"github.com/hugh/go-shepherd/internal/inbox"
)

type NotificationHandler struct {
	inbox  *inbox.Service
	logger *slog.Logger
}

func NewNotificationHandler(svc *inbox.Service, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{inbox: svc, logger: logger}
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination(r)
	items, total, err := h.inbox.List(r.Context(), middleware.GetPrincipalID(r.Context()), inbox.Filter{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Limit:      page.PerPage,
		Offset:     page.Offset(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Paginate(items, total, page))
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.inbox.MarkRead(r.Context(), middleware.GetPrincipalID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

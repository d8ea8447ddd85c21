package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/api/dto"
	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, apperr.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrUnauthorized):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, apperr.ErrTokenNotFound):
		status, msg = http.StatusNotFound, "Invitation not found"
	case errors.Is(err, apperr.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, apperr.ErrTokenExpired):
		status, msg = http.StatusGone, "Invitation has expired"
	case errors.Is(err, apperr.ErrTokenExhausted):
		status, msg = http.StatusGone, "Invitation has been used up"
	case errors.Is(err, apperr.ErrTokenInactive):
		status, msg = http.StatusGone, "Invitation is no longer active"
	case errors.Is(err, apperr.ErrInvalidTransition):
		status, msg = http.StatusUnprocessableEntity, "Invalid status transition"
	case errors.Is(err, apperr.ErrConflict):
		status, msg = http.StatusConflict, "Conflicting update, retry"
	case errors.Is(err, apperr.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "Service temporarily unavailable"
	}

	if status >= 500 && logger != nil {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}

// validator is implemented by every request DTO.
type validator interface {
	Validate() map[string]string
}

// decode reads a JSON body into req and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, req validator) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return false
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return false
	}
	return true
}

// urlID accepts only the canonical hyphenated form, not every spelling
// uuid.Parse tolerates.
func urlID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil || !validation.IsValidUUID(raw) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) dto.PaginationParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	p := dto.PaginationParams{Page: page, PerPage: perPage}
	p.Normalize()
	return p
}

// queryID parses an optional uuid query parameter.
func queryID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil || !validation.IsValidUUID(raw) {
		return nil, apperr.Validation("invalid %s", name)
	}
	return &id, nil
}

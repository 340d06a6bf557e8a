package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatusFor maps a service error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shotlocker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shotlocker.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes its status. Server errors get a generic body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, editID string, err error) {
	status := StatusFor(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "edit_id", editID, "error", err)
		detail = http.StatusText(status)
	} else {
		h.logger.WarnContext(r.Context(), "request rejected",
			"method", r.Method, "path", r.URL.Path, "edit_id", editID, "status", status, "error", err)
	}
	writeDetail(w, r, status, detail)
}

func writeDetail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Detail: detail})
}

// Package api serves lockers, edits and edit access over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

// MaxUploadSize is the largest edit document accepted by upload
const MaxUploadSize = 20000000

// multipart framing allowance on top of MaxUploadSize
const uploadOverhead = 1 << 20

// UploadHook is called after an edit document is stored
type UploadHook func(ctx context.Context, bucket, key string)

// Handler serves the locker API over a Service
type Handler struct {
	service  *shotlocker.Service
	logger   *slog.Logger
	onUpload UploadHook
}

// New creates a handler. A nil logger uses slog.Default.
func New(service *shotlocker.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// OnUpload installs a hook run after each successful upload. Deployments
// without bucket notifications use it to start processing.
func (h *Handler) OnUpload(fn UploadHook) {
	h.onUpload = fn
}

// Routes returns the router for the locker endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)

	r.Route("/lockers", func(r chi.Router) {
		r.Get("/", h.ListLockers)
		r.Route("/{locker}", func(r chi.Router) {
			r.Get("/", h.GetLocker)
			r.Put("/enable", h.EnableLocker)
			r.Put("/disable", h.DisableLocker)

			r.Get("/edits", h.ListEdits)
			r.Post("/edits", h.UploadEdit)
			r.Route("/edits/{edit}", func(r chi.Router) {
				r.Get("/", h.GetEdit)
				r.Get("/logs", h.EditLogs)
				r.Put("/enable", h.EnableEdit)
				r.Put("/disable", h.DisableEdit)
				r.Get("/access", h.ListAccess)
				r.Put("/access/grant/{expiry}/*", h.GrantAccess)
				r.Put("/access/deny/*", h.DenyAccess)
			})
		})
	})
	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// ListLockers lists lockers, or with ?available=true the buckets that
// could become lockers. ?all=true includes inactive lockers.
func (h *Handler) ListLockers(w http.ResponseWriter, r *http.Request) {
	var (
		lockers []shotlocker.Locker
		err     error
	)
	if queryBool(r, "available") {
		lockers, err = h.service.ListAvailableBuckets(r.Context())
	} else {
		lockers, err = h.service.ListLockers(r.Context(), queryBool(r, "all"))
	}
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	if lockers == nil {
		lockers = []shotlocker.Locker{}
	}
	render.JSON(w, r, map[string]any{"locker": lockers})
}

// GetLocker returns one locker or available bucket
func (h *Handler) GetLocker(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "locker")
	locker, err := h.findLocker(r, bucket, true, true)
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	render.JSON(w, r, map[string]any{"locker": locker})
}

// EnableLocker turns an available bucket into an active locker
func (h *Handler) EnableLocker(w http.ResponseWriter, r *http.Request) {
	h.setLocker(w, r, true)
}

// DisableLocker deactivates an active locker
func (h *Handler) DisableLocker(w http.ResponseWriter, r *http.Request) {
	h.setLocker(w, r, false)
}

func (h *Handler) setLocker(w http.ResponseWriter, r *http.Request, enabled bool) {
	bucket := chi.URLParam(r, "locker")
	// only available buckets can be enabled and only active lockers disabled
	if _, err := h.findLocker(r, bucket, !enabled, enabled); err != nil {
		h.writeError(w, r, "", err)
		return
	}
	locker, err := h.service.SetLockerEnabled(r.Context(), bucket, enabled)
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	render.JSON(w, r, map[string]any{"locker": locker})
}

// findLocker looks bucket up among active lockers and available buckets.
func (h *Handler) findLocker(r *http.Request, bucket string, lockers, available bool) (*shotlocker.Locker, error) {
	var candidates []shotlocker.Locker
	if lockers {
		list, err := h.service.ListLockers(r.Context(), false)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, list...)
	}
	if available {
		list, err := h.service.ListAvailableBuckets(r.Context())
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, list...)
	}
	for _, l := range candidates {
		if l.Name == bucket {
			return &l, nil
		}
	}
	return nil, shotlocker.NewStoreError("GetLocker", bucket, "", shotlocker.ErrNotFound, errors.New("bucket not found"))
}

// ListEdits lists a locker's edits. ?all=true includes inactive edits.
func (h *Handler) ListEdits(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "locker")
	ok, err := h.service.IsLocker(r.Context(), bucket)
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	if !ok {
		h.writeError(w, r, "", shotlocker.ErrNotLocker)
		return
	}
	edits, err := h.service.ListEdits(r.Context(), bucket, queryBool(r, "all"))
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	if edits == nil {
		edits = []shotlocker.Edit{}
	}
	render.JSON(w, r, map[string]any{"edit": edits})
}

// GetEdit returns one edit
func (h *Handler) GetEdit(w http.ResponseWriter, r *http.Request) {
	bucket, editID := chi.URLParam(r, "locker"), chi.URLParam(r, "edit")
	if err := h.service.RequireEdit(r.Context(), bucket, editID); err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	edit, err := h.service.GetEdit(r.Context(), bucket, editID)
	if err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	render.JSON(w, r, edit)
}

// UploadEdit stores a multipart "file" as a new edit and returns its key
func (h *Handler) UploadEdit(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "locker")
	ok, err := h.service.IsLocker(r.Context(), bucket)
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	if !ok {
		h.writeError(w, r, "", shotlocker.ErrNotLocker)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+uploadOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, r, http.StatusRequestEntityTooLarge, "Media too large")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to read upload", "bucket", bucket, "error", err)
		writeDetail(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > MaxUploadSize {
		writeDetail(w, r, http.StatusRequestEntityTooLarge, "Media too large")
		return
	}
	body, err := io.ReadAll(io.LimitReader(file, MaxUploadSize+1))
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	if len(body) > MaxUploadSize {
		writeDetail(w, r, http.StatusRequestEntityTooLarge, "Media too large")
		return
	}

	key, err := h.service.UploadEdit(r.Context(), bucket, header.Filename, body)
	if err != nil {
		h.writeError(w, r, "", err)
		return
	}
	h.logger.InfoContext(r.Context(), "edit uploaded", "bucket", bucket, "key", key, "size", len(body))
	if h.onUpload != nil {
		h.onUpload(r.Context(), bucket, key)
	}
	render.JSON(w, r, map[string]string{"upload": key})
}

// EditLogs returns the edit's event log
func (h *Handler) EditLogs(w http.ResponseWriter, r *http.Request) {
	bucket, editID := chi.URLParam(r, "locker"), chi.URLParam(r, "edit")
	if err := h.service.RequireEdit(r.Context(), bucket, editID); err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	entries, err := h.service.EditLog(r.Context(), bucket, editID)
	if err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	render.JSON(w, r, map[string]any{"log": entries})
}

// EnableEdit enables an edit and starts the access add workflow
func (h *Handler) EnableEdit(w http.ResponseWriter, r *http.Request) {
	h.setEdit(w, r, true)
}

// DisableEdit disables an edit and starts the access remove workflow
func (h *Handler) DisableEdit(w http.ResponseWriter, r *http.Request) {
	h.setEdit(w, r, false)
}

func (h *Handler) setEdit(w http.ResponseWriter, r *http.Request, enabled bool) {
	bucket, editID := chi.URLParam(r, "locker"), chi.URLParam(r, "edit")
	if err := h.service.RequireEdit(r.Context(), bucket, editID); err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	if _, err := h.service.SetEditEnabled(r.Context(), bucket, editID, enabled, true); err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	h.service.Logf(r.Context(), editID, "Edit (%s) is %s", editID, state)

	edit, err := h.service.GetEdit(r.Context(), bucket, editID)
	if err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	render.JSON(w, r, map[string]any{"edit": edit})
}

// ListAccess lists the grants on an edit, expired ones included
func (h *Handler) ListAccess(w http.ResponseWriter, r *http.Request) {
	bucket, editID := chi.URLParam(r, "locker"), chi.URLParam(r, "edit")
	grants, err := h.service.ListAccess(r.Context(), bucket, editID)
	if err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	render.JSON(w, r, map[string]any{"access": grants})
}

// GrantAccess grants the principal in the trailing path until expiry
func (h *Handler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	bucket, editID := chi.URLParam(r, "locker"), chi.URLParam(r, "edit")
	expiry, principal := chi.URLParam(r, "expiry"), chi.URLParam(r, "*")
	if _, err := h.service.GrantAccess(r.Context(), bucket, editID, principal, expiry); err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	render.JSON(w, r, map[string]string{"grant": "grant " + principal})
}

// DenyAccess revokes the principal in the trailing path
func (h *Handler) DenyAccess(w http.ResponseWriter, r *http.Request) {
	bucket, editID := chi.URLParam(r, "locker"), chi.URLParam(r, "edit")
	principal := chi.URLParam(r, "*")
	if _, err := h.service.RevokeAccess(r.Context(), bucket, editID, principal); err != nil {
		h.writeError(w, r, editID, err)
		return
	}
	render.JSON(w, r, map[string]string{"deny": "deny " + principal})
}

func queryBool(r *http.Request, name string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && b
}

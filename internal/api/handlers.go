package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/syncservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *syncservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *syncservice.Service) *Handler {
	return &Handler{svc: svc}
}

// Status handles GET /api/status.
//
//	@Summary		Current sync status and last run
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	syncservice.Status
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		slog.Error("api: status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListRecords handles GET /api/records.
//
//	@Summary		List sync records
//	@Tags			records
//	@Produce		json
//	@Param			status	query		string	false	"Filter by status"	Enums(success, error)
//	@Success		200		{object}	RecordListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != "success" && status != "error" {
		writeJSON(w, http.StatusBadRequest, errorBody("status must be success or error"))
		return
	}
	records, err := h.svc.ListRecords(r.Context(), status)
	if err != nil {
		slog.Error("api: list records failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RecordListResponse{Records: records, Total: len(records)})
}

// GetRecord handles GET /api/records/{id}.
//
//	@Summary		Get one sync record with its artifact
//	@Tags			records
//	@Produce		json
//	@Param			id	path		string	true	"Remote record id"
//	@Success		200	{object}	RecordDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: get record failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recorded sync runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, total, err := h.svc.ListRuns(r.Context(), intParam(r, "limit", 20), intParam(r, "offset", 0))
	if err != nil {
		slog.Error("api: list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get one run with its reported errors
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	RunView
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: get run failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Sync handles POST /api/sync.
//
//	@Summary		Run one sync pass and wait for it
//	@Tags			sync
//	@Produce		json
//	@Param			mode	query		string	false	"Sync mode"	Enums(incremental, full)
//	@Success		200		{object}	SyncResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	SyncResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	mode := detector.ModeIncremental
	if raw := r.URL.Query().Get("mode"); raw != "" {
		m, err := detector.ParseMode(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		mode = m
	}

	sum, err := h.svc.Sync(r.Context(), mode, syncservice.TriggerAPI)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, apperr.ErrBusy):
			writeJSON(w, http.StatusConflict, errorBody("sync already running"))
			return
		case errors.Is(err, apperr.ErrFatalSource):
			status = http.StatusBadGateway
		case errors.Is(err, context.Canceled):
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, SyncResponse{Summary: sum, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Summary: sum})
}

// ListArtifacts handles GET /api/artifacts.
//
//	@Summary		List catalogued files of the content directory
//	@Tags			artifacts
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Success		200		{object}	ArtifactListResponse
//	@Security		BearerAuth
//	@Router			/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	items, total, err := h.svc.ListArtifacts(r.Context(), intParam(r, "limit", 100), intParam(r, "offset", 0), r.URL.Query().Get("tag"))
	if err != nil {
		slog.Error("api: list artifacts failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, ArtifactListResponse{Artifacts: items, Total: total})
}

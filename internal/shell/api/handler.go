// Package api serves the read-only run history over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kwonjuyong/stagehand/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the history API.
type Handler struct {
	store  store.Store
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	r.Get("/health", h.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
		})
		r.Get("/projects/{project}/latest", h.handleLatestRun)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	opts = opts.Normalize()

	project := r.URL.Query().Get("project")

	var err error
	var runs []RunResponse
	if project != "" {
		list, lerr := h.store.ListRunsByProject(r.Context(), project, opts)
		err = lerr
		for i := range list {
			runs = append(runs, runToResponse(&list[i]))
		}
	} else {
		list, lerr := h.store.ListRuns(r.Context(), opts)
		err = lerr
		for i := range list {
			runs = append(runs, runToResponse(&list[i]))
		}
	}
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	if runs == nil {
		runs = []RunResponse{}
	}
	h.writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	records, err := h.store.ListStageRecords(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list stage records", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list stage records", "internal_error")
		return
	}

	resp := RunDetailResponse{RunResponse: runToResponse(run), Stages: []StageResponse{}}
	for i := range records {
		resp.Stages = append(resp.Stages, stageToResponse(&records[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	run, err := h.store.LatestRun(r.Context(), project)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "no runs for project", "not_found")
			return
		}
		h.logger.Error("failed to get latest run", "project", project, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get latest run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run))
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

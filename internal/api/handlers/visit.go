// Package handlers provides HTTP handlers for the visit API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/api/middleware"
	"github.com/drfirst/visitdesk/internal/domain/visit"
)

// MaxListLimit caps ?limit on the list endpoint
const MaxListLimit = 200

// VisitStore reads visits
type VisitStore interface {
	Get(ctx context.Context, id string) (*visit.Record, error)
	List(ctx context.Context, limit int) ([]*visit.Record, error)
}

// VisitHandler serves the visit read endpoints
type VisitHandler struct {
	store  VisitStore
	logger *zap.Logger
}

// NewVisitHandler creates a new handler
func NewVisitHandler(store VisitStore, logger *zap.Logger) *VisitHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitHandler{store: store, logger: logger}
}

// Routes returns the handler routes
func (h *VisitHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}

// ListResponse is the body of GET /visits
type ListResponse struct {
	Visits []*visit.Record `json:"visits"`
	Count  int             `json:"count"`
}

// Get handles GET /visits/{id}
func (h *VisitHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, visit.ErrNotFound) {
			jsonError(w, "visit not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get visit failed",
			zap.String("visit_id", id),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		jsonError(w, "failed to load visit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// List handles GET /visits?limit=N
func (h *VisitHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := visit.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxListLimit)
	}

	records, err := h.store.List(ctx, limit)
	if err != nil {
		h.logger.Error("list visits failed",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		jsonError(w, "failed to list visits", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*visit.Record{}
	}

	writeJSON(w, http.StatusOK, ListResponse{Visits: records, Count: len(records)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/api/middleware"
	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
	"github.com/drfirst/visitdesk/internal/session"
	"github.com/drfirst/visitdesk/internal/visitview"
	"github.com/drfirst/visitdesk/pkg/circuitbreaker"
)

// SourceFor returns the visit source used for a session's views
type SourceFor func(sess *session.Session) visitview.Source

// StoreSource reads visits straight from a store, through breaker when set.
// A missing visit is reported as (nil, nil).
func StoreSource(store VisitStore, breaker *circuitbreaker.CircuitBreaker) SourceFor {
	load := func(ctx context.Context, visitID string) (*visit.Record, error) {
		rec, err := store.Get(ctx, visitID)
		if errors.Is(err, visit.ErrNotFound) {
			return nil, nil
		}
		return rec, err
	}

	return func(*session.Session) visitview.Source {
		return visitview.SourceFunc(func(ctx context.Context, visitID string) (*visit.Record, error) {
			if breaker == nil {
				return load(ctx, visitID)
			}
			res, err := breaker.Execute(ctx, func() (interface{}, error) {
				return load(ctx, visitID)
			})
			if err != nil {
				return nil, err
			}
			rec, _ := res.(*visit.Record)
			return rec, nil
		})
	}
}

// ViewConfig holds ViewHandler settings
type ViewConfig struct {
	FetchTimeout time.Duration
	// WaitTimeout bounds how long a request waits for the view to settle
	WaitTimeout time.Duration
	// Notifier receives toasts in addition to the per-request collector; may be nil
	Notifier  visitview.Notifier
	Metrics   *metrics.Metrics
	Presenter visitview.Presenter
}

// ViewHandler runs a visit detail view per request for the signed-in session
type ViewHandler struct {
	sourceFor SourceFor
	cfg       ViewConfig
	logger    *zap.Logger
}

// NewViewHandler creates a new handler
func NewViewHandler(sourceFor SourceFor, cfg ViewConfig, logger *zap.Logger) *ViewHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = visitview.DefaultFetchTimeout
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = cfg.FetchTimeout + 5*time.Second
	}
	return &ViewHandler{sourceFor: sourceFor, cfg: cfg, logger: logger}
}

// Routes returns the handler routes
func (h *ViewHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.Show)
	r.Post("/{id}/actions/{action}", h.Act)
	return r
}

// ViewResponse is a rendered view plus the toasts raised while producing it
type ViewResponse struct {
	View    visitview.View     `json:"view"`
	Notices []visitview.Notice `json:"notices"`
}

// ActionResponse is the outcome of a navigation action
type ActionResponse struct {
	Action visitview.Action `json:"action"`
	Target string           `json:"target"`
}

type openView struct {
	ctrl    *visitview.Controller
	notices *visitview.Collector
}

func (h *ViewHandler) response(v *openView) ViewResponse {
	return ViewResponse{View: h.cfg.Presenter.Render(v.ctrl.State()), Notices: v.notices.Notices()}
}

// open mounts a view for the request's session and waits for it to settle.
// On failure it has already written the error response.
func (h *ViewHandler) open(w http.ResponseWriter, r *http.Request) (*openView, bool) {
	ctx := r.Context()
	sess, ok := session.FromContext(ctx)
	if !ok {
		jsonError(w, "no session", http.StatusUnauthorized)
		return nil, false
	}

	notices := &visitview.Collector{}
	logger := h.logger.With(
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("staff_id", sess.StaffID))
	fetcher := visitview.NewDataFetcher(h.sourceFor(sess), visitview.FetcherConfig{
		Timeout:  h.cfg.FetchTimeout,
		Notifier: visitview.Multi{notices, h.cfg.Notifier, visitview.NewLogNotifier(logger)},
		Metrics:  h.cfg.Metrics,
	}, logger)

	ctrl, err := visitview.NewController(sess, fetcher,
		visitview.WithMetrics(h.cfg.Metrics),
		visitview.WithLogger(logger))
	if err != nil {
		jsonError(w, "no session", http.StatusUnauthorized)
		return nil, false
	}

	v := &openView{ctrl: ctrl, notices: notices}
	ctrl.Mount(ctx, chi.URLParam(r, "id"))
	if !h.settle(w, r, v) {
		ctrl.Unmount()
		return nil, false
	}
	return v, true
}

func (h *ViewHandler) settle(w http.ResponseWriter, r *http.Request, v *openView) bool {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WaitTimeout)
	defer cancel()

	if _, err := v.ctrl.Wait(ctx); err != nil {
		h.logger.Warn("visit view did not settle",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		jsonError(w, "visit view did not settle", http.StatusGatewayTimeout)
		return false
	}
	return true
}

// Show handles GET /views/visits/{id}
func (h *ViewHandler) Show(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("view-handler").Start(r.Context(), "show_visit_view")
	defer span.End()
	r = r.WithContext(ctx)

	v, ok := h.open(w, r)
	if !ok {
		return
	}
	defer v.ctrl.Unmount()

	resp := h.response(v)
	span.SetAttributes(attribute.String("view.state", resp.View.State))
	writeJSON(w, http.StatusOK, resp)
}

// Act handles POST /views/visits/{id}/actions/{action}.
// Retry answers with the reloaded view; every other action answers with its target.
func (h *ViewHandler) Act(w http.ResponseWriter, r *http.Request) {
	kind := visitview.ActionKind(chi.URLParam(r, "action"))
	ctx, span := otel.Tracer("view-handler").Start(r.Context(), "visit_view_action")
	span.SetAttributes(attribute.String("view.action", string(kind)))
	defer span.End()
	r = r.WithContext(ctx)

	v, ok := h.open(w, r)
	if !ok {
		return
	}
	defer v.ctrl.Unmount()

	var target string
	router := visitview.RouterFunc(func(_ context.Context, to string) error {
		target = to
		return nil
	})

	action, err := visitview.Dispatch(r.Context(), v.ctrl, h.cfg.Presenter, router, kind)
	if err != nil {
		if errors.Is(err, visitview.ErrActionUnavailable) {
			jsonError(w, "action "+string(kind)+" is not available", http.StatusConflict)
			return
		}
		jsonError(w, "action failed", http.StatusInternalServerError)
		return
	}

	if action.Kind == visitview.ActionRetry {
		if !h.settle(w, r, v) {
			return
		}
		writeJSON(w, http.StatusOK, h.response(v))
		return
	}

	h.logger.Info("visit view navigation",
		zap.String("staff_id", v.ctrl.Session().StaffID),
		zap.String("action", string(action.Kind)),
		zap.String("target", target))
	writeJSON(w, http.StatusOK, ActionResponse{Action: action, Target: target})
}

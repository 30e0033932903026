package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
	"github.com/drfirst/visitdesk/internal/session"
	"github.com/drfirst/visitdesk/internal/visitview"
	"github.com/drfirst/visitdesk/pkg/circuitbreaker"
)

var (
	_ VisitStore = (*visit.Repository)(nil)
	_ VisitStore = (*fakeStore)(nil)
	_ Pinger     = (*pgxpool.Pool)(nil)
)

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]*visit.Record
	getErrs   []error
	listErr   error
	lastLimit int
	gets      int
}

func (s *fakeStore) Get(_ context.Context, id string) (*visit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, visit.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) List(_ context.Context, limit int) ([]*visit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []*visit.Record{}
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func newStore() *fakeStore {
	return &fakeStore{records: map[string]*visit.Record{
		"v1": {ID: "v1", Status: visit.StatusCompleted, PatientName: visit.StringPtr("Jane Doe"), Responses: []visit.Response{}},
		"v2": {ID: "v2", Status: visit.StatusInProgress, Responses: []visit.Response{}},
	}}
}

func withSession(r *http.Request) *http.Request {
	sess := &session.Session{StaffID: "staff-1", Token: "tok"}
	return r.WithContext(session.WithSession(r.Context(), sess))
}

func serve(t *testing.T, h http.Handler, method, target string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if authed {
		req = withSession(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func visitRouter(store VisitStore) http.Handler {
	r := chi.NewRouter()
	r.Mount("/visits", NewVisitHandler(store, nil).Routes())
	return r
}

func TestVisitHandler_Get(t *testing.T) {
	store := newStore()
	h := visitRouter(store)

	rec := serve(t, h, http.MethodGet, "/visits/v1", false)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := visit.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ID)
	assert.Equal(t, "Jane Doe", *got.PatientName)

	rec = serve(t, h, http.MethodGet, "/visits/nope", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"visit not found"}`, rec.Body.String())

	store.getErrs = []error{errors.New("conn reset")}
	rec = serve(t, h, http.MethodGet, "/visits/v1", false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "conn reset")
}

func TestVisitHandler_List(t *testing.T) {
	store := newStore()
	h := visitRouter(store)

	rec := serve(t, h, http.MethodGet, "/visits/", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var body ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, visit.DefaultListLimit, store.lastLimit)

	serve(t, h, http.MethodGet, "/visits/?limit=1000", false)
	assert.Equal(t, MaxListLimit, store.lastLimit)

	rec = serve(t, h, http.MethodGet, "/visits/?limit=-1", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.listErr = errors.New("down")
	rec = serve(t, h, http.MethodGet, "/visits/", false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func viewRouter(store VisitStore, cfg ViewConfig) http.Handler {
	r := chi.NewRouter()
	r.Mount("/views/visits", NewViewHandler(StoreSource(store, nil), cfg, nil).Routes())
	return r
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) ViewResponse {
	t.Helper()
	var body ViewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestViewHandler_ShowLoaded(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := viewRouter(newStore(), ViewConfig{Metrics: m})

	rec := serve(t, h, http.MethodGet, "/views/visits/v1", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeView(t, rec)
	assert.Equal(t, "loaded", body.View.State)
	require.NotNil(t, body.View.Badge)
	assert.Equal(t, "Completed", body.View.Badge.Label)
	assert.Empty(t, body.Notices)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewLoads.WithLabelValues("loaded")))
}

func TestViewHandler_ShowMissingIsEmpty(t *testing.T) {
	h := viewRouter(newStore(), ViewConfig{})

	body := decodeView(t, serve(t, h, http.MethodGet, "/views/visits/unknown", true))
	assert.Equal(t, "empty", body.View.State)
	assert.Equal(t, "Visit not found", body.View.Title)
	assert.Empty(t, body.Notices)
}

func TestViewHandler_ShowFailureRaisesNotice(t *testing.T) {
	store := newStore()
	store.getErrs = []error{errors.New("database unavailable")}
	forwarded := &visitview.Collector{}
	h := viewRouter(store, ViewConfig{Notifier: forwarded})

	rec := serve(t, h, http.MethodGet, "/views/visits/v1", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeView(t, rec)
	assert.Equal(t, "error", body.View.State)
	assert.Equal(t, "database unavailable", body.View.Message)
	require.Len(t, body.Notices, 1)
	assert.Equal(t, "database unavailable", body.Notices[0].Message)
	assert.Len(t, forwarded.Notices(), 1)
}

func TestViewHandler_RequiresSession(t *testing.T) {
	h := viewRouter(newStore(), ViewConfig{})
	rec := serve(t, h, http.MethodGet, "/views/visits/v1", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestViewHandler_WaitTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	slow := func(*session.Session) visitview.Source {
		return visitview.SourceFunc(func(ctx context.Context, _ string) (*visit.Record, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		})
	}
	r := chi.NewRouter()
	r.Mount("/views/visits", NewViewHandler(slow, ViewConfig{FetchTimeout: time.Second, WaitTimeout: 20 * time.Millisecond}, nil).Routes())

	rec := serve(t, r, http.MethodGet, "/views/visits/v1", true)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestViewHandler_NavigationAction(t *testing.T) {
	h := viewRouter(newStore(), ViewConfig{})

	rec := serve(t, h, http.MethodPost, "/views/visits/v2/actions/continue", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/visits/v2/questions", body.Target)
	assert.Equal(t, visitview.ActionContinue, body.Action.Kind)

	rec = serve(t, h, http.MethodPost, "/views/visits/v2/actions/back", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/visits", body.Target)
}

func TestViewHandler_UnavailableAction(t *testing.T) {
	h := viewRouter(newStore(), ViewConfig{})

	rec := serve(t, h, http.MethodPost, "/views/visits/v1/actions/continue", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, h, http.MethodPost, "/views/visits/v1/actions/retry", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestViewHandler_RetryReloads(t *testing.T) {
	store := newStore()
	store.getErrs = []error{errors.New("flaky")}
	h := viewRouter(store, ViewConfig{})

	rec := serve(t, h, http.MethodPost, "/views/visits/v1/actions/retry", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeView(t, rec)
	assert.Equal(t, "loaded", body.View.State)
	require.Len(t, body.Notices, 1, "the failed first load still raised its toast")
	assert.Equal(t, 2, store.gets)
}

func TestStoreSource_OpenBreaker(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("visit-store")
	cfg.FailureThreshold = 1
	cb, err := circuitbreaker.New(cfg, nil)
	require.NoError(t, err)

	store := newStore()
	store.getErrs = []error{errors.New("down")}
	src := StoreSource(store, cb)(nil)

	_, err = src.Load(context.Background(), "v1")
	require.Error(t, err)
	_, err = src.Load(context.Background(), "v1")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 1, store.gets)

	rec, err := StoreSource(store, nil)(nil).Load(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(""), nil)
	_, err := breakers.GetOrCreate("visit-store")
	require.NoError(t, err)

	var dbErr error
	h := NewHealthHandler("visit-api", pingFunc(func(context.Context) error { return dbErr }), breakers)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	require.Len(t, ready.Breakers, 1)
	assert.True(t, ready.Breakers[0].Healthy)

	dbErr = errors.New("refused")
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandler_ExtraCheck(t *testing.T) {
	h := NewHealthHandler("visit-api", nil, nil)
	var brokerErr error
	h.AddCheck("redpanda", func(context.Context) error { return brokerErr })

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ok", ready.Checks["redpanda"])

	brokerErr = errors.New("no brokers reachable")
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "no brokers reachable", ready.Checks["redpanda"])
}

func TestViewHandler_LoadSpansNestUnderRequestSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		_ = tp.Shutdown(context.Background())
	})

	rec := serve(t, viewRouter(newStore(), ViewConfig{}), http.MethodGet, "/views/visits/v1", true)
	require.Equal(t, http.StatusOK, rec.Code)

	ended := func(name string) sdktrace.ReadOnlySpan {
		for _, s := range recorder.Ended() {
			if s.Name() == name {
				return s
			}
		}
		return nil
	}
	require.Eventually(t, func() bool {
		return ended("show_visit_view") != nil && ended("visit_view_load") != nil
	}, time.Second, 5*time.Millisecond)

	show, load, fetch := ended("show_visit_view"), ended("visit_view_load"), ended("fetch_visit")
	require.NotNil(t, fetch)
	assert.Equal(t, show.SpanContext().TraceID(), load.SpanContext().TraceID())
	assert.Equal(t, show.SpanContext().SpanID(), load.Parent().SpanID())
	assert.Equal(t, load.SpanContext().SpanID(), fetch.Parent().SpanID())
}

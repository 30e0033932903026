package visitview

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
	"github.com/drfirst/visitdesk/internal/session"
)

// ErrNotMounted is returned by Wait before the first Mount
var ErrNotMounted = errors.New("view not mounted")

// ErrClosed is returned once the view has been unmounted
var ErrClosed = errors.New("view closed")

// Loader is what the controller needs from a DataFetcher
type Loader interface {
	Load(ctx context.Context, visitID string) (*visit.Record, error)
}

// Controller drives one visit detail view through its states.
//
// Every load is tagged with a generation. Mount, Retry and Unmount bump the
// generation and cancel the previous load's context; a completion whose
// generation is no longer current is dropped, so the final state always
// belongs to the most recently requested visit.
type Controller struct {
	session *session.Session
	loader  Loader
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	settled chan struct{}
	started time.Time
	closed  bool
	seq     uint64

	// notifyMu guards delivery and is never acquired while mu is held
	notifyMu  sync.Mutex
	listeners map[int]func(State)
	nextID    int
	delivered uint64
}

// Option configures a Controller
type Option func(*Controller)

// WithMetrics records load outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the controller logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController opens a view for an authenticated session
func NewController(sess *session.Session, loader Loader, opts ...Option) (*Controller, error) {
	if !sess.Valid() {
		return nil, session.ErrNoSession
	}
	if loader == nil {
		return nil, errors.New("loader is required")
	}

	c := &Controller{
		session:   sess,
		loader:    loader,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("visit-view"),
		state:     State{Phase: PhaseLoading},
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("staff_id", sess.StaffID))
	return c, nil
}

// Session returns the session the view was opened with
func (c *Controller) Session() *session.Session { return c.session }

// State returns the current view state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for state changes. Listeners run synchronously and
// in publication order; a state superseded before delivery is skipped.
// Listeners may read State but must not call Mount or Retry.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		delete(c.listeners, id)
	}
}

// Mount shows the view for visitID and starts loading it. An empty visitID
// is ignored: no load is issued and the state is left as it was.
func (c *Controller) Mount(ctx context.Context, visitID string) {
	if visitID == "" {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.startLocked(ctx, visitID)
}

// Retry reloads the same visit. Only valid from the error state; returns
// false otherwise.
func (c *Controller) Retry(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed || c.state.Phase != PhaseError {
		c.mu.Unlock()
		return false
	}
	if c.metrics != nil {
		c.metrics.Retries.Inc()
	}
	c.startLocked(ctx, c.state.VisitID)
	return true
}

// Unmount ends the view. Any in-flight load is cancelled and its result dropped.
func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.closeSettledLocked()
}

// Wait blocks until the current load settles, the view is unmounted or ctx is done
func (c *Controller) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		ch, state, closed := c.settled, c.state, c.closed
		c.mu.Unlock()

		switch {
		case closed:
			return state, ErrClosed
		case ch == nil:
			return state, ErrNotMounted
		}

		select {
		case <-ctx.Done():
			return c.State(), ctx.Err()
		case <-ch:
		}

		if s := c.State(); s.Phase.Settled() {
			return s, nil
		}
		// superseded by a newer load; wait for that one
	}
}

// startLocked must be called with mu held; it releases mu.
func (c *Controller) startLocked(parent context.Context, visitID string) {
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	c.closeSettledLocked()

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	settled := make(chan struct{})
	c.settled = settled
	c.started = time.Now()

	c.logger.Debug("loading visit",
		zap.String("visit_id", visitID),
		zap.Uint64("generation", gen))

	c.publishLocked(State{Phase: PhaseLoading, VisitID: visitID, Generation: gen})

	go c.run(ctx, gen, visitID, settled)
}

func (c *Controller) run(ctx context.Context, gen uint64, visitID string, settled chan struct{}) {
	ctx, span := c.tracer.Start(ctx, "visit_view_load",
		trace.WithAttributes(
			attribute.String("visit_id", visitID),
			attribute.Int64("generation", int64(gen)),
		))
	defer span.End()

	rec, err := c.loader.Load(ctx, visitID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		span.SetAttributes(attribute.Bool("stale", true))
		if c.metrics != nil {
			c.metrics.StaleResults.Inc()
		}
		c.logger.Debug("dropping stale visit load",
			zap.String("visit_id", visitID),
			zap.Uint64("generation", gen))
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	next := stateFor(visitID, gen, rec, err)
	if c.metrics != nil {
		c.metrics.ViewLoads.WithLabelValues(next.Phase.String()).Inc()
		c.metrics.LoadDuration.Observe(time.Since(c.started).Seconds())
	}
	span.SetAttributes(attribute.String("phase", next.Phase.String()))

	close(settled)
	c.publishLocked(next)
}

// publishLocked must be called with mu held; it releases mu.
func (c *Controller) publishLocked(s State) {
	c.state = s
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.delivered {
		return
	}
	c.delivered = seq
	for _, fn := range c.listeners {
		fn(s)
	}
}

// closeSettledLocked releases waiters of the current generation
func (c *Controller) closeSettledLocked() {
	if c.settled == nil {
		return
	}
	select {
	case <-c.settled:
	default:
		close(c.settled)
	}
}

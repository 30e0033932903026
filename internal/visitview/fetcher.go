// Package visitview implements the visit detail view: loading a visit,
// tracking the view state, and presenting it.
package visitview

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
)

// DefaultFetchTimeout bounds a single visit load
const DefaultFetchTimeout = 10 * time.Second

// ErrEmptyIdentifier is returned when a load is requested without a visit id.
// It is a skip, not a failure: nothing is fetched and nothing is reported.
var ErrEmptyIdentifier = errors.New("empty visit identifier")

// FetchError is a recoverable load failure shown inline and as a toast
type FetchError struct {
	Message string
	Err     error
}

func (e *FetchError) Error() string { return e.Message }

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err, defaulting the message to "Unknown error"
func NewFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	msg := "Unknown error"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		msg = "Request timed out"
	case err.Error() != "":
		msg = err.Error()
	}
	return &FetchError{Message: msg, Err: err}
}

// Source reads one visit. Implementations return (nil, nil) when the
// visit does not exist.
type Source interface {
	Load(ctx context.Context, visitID string) (*visit.Record, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, visitID string) (*visit.Record, error)

// Load implements Source
func (f SourceFunc) Load(ctx context.Context, visitID string) (*visit.Record, error) {
	return f(ctx, visitID)
}

// DataFetcher issues a single bounded read per call and reports failures
// on two channels: the returned *FetchError and a transient notification.
type DataFetcher struct {
	source   Source
	notifier Notifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// FetcherConfig holds DataFetcher settings
type FetcherConfig struct {
	Timeout  time.Duration
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// NewDataFetcher creates a fetcher over source
func NewDataFetcher(source Source, cfg FetcherConfig, logger *zap.Logger) *DataFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(logger)
	}
	return &DataFetcher{
		source:   source,
		notifier: cfg.Notifier,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   logger,
		tracer:   otel.Tracer("visit-fetcher"),
	}
}

// Load reads a visit. A nil record with a nil error means not found.
// When ctx is cancelled by the caller the error is returned unwrapped and no
// notification is raised.
func (d *DataFetcher) Load(ctx context.Context, visitID string) (*visit.Record, error) {
	if visitID == "" {
		return nil, ErrEmptyIdentifier
	}

	ctx, span := d.tracer.Start(ctx, "fetch_visit",
		trace.WithAttributes(attribute.String("visit_id", visitID)))
	defer span.End()

	loadCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	rec, err := d.source.Load(loadCtx, visitID)
	if err == nil {
		span.SetAttributes(attribute.Bool("found", rec != nil))
		return rec, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	fe := NewFetchError(err)
	span.RecordError(fe)
	d.logger.Warn("visit load failed",
		zap.String("visit_id", visitID),
		zap.Error(err))

	d.notifier.Error(ctx, fe.Message)
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues("toast").Inc()
	}
	return nil, fe
}

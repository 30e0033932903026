package visitview

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
)

func TestDataFetcher_EmptyIdentifierSkips(t *testing.T) {
	calls := 0
	notices := &Collector{}
	f := NewDataFetcher(SourceFunc(func(context.Context, string) (*visit.Record, error) {
		calls++
		return nil, nil
	}), FetcherConfig{Notifier: notices}, nil)

	rec, err := f.Load(context.Background(), "")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
	assert.Zero(t, calls)
	assert.Empty(t, notices.Notices())
}

func TestDataFetcher_SuccessReturnsRecordAsIs(t *testing.T) {
	want := &visit.Record{ID: "v1", Status: visit.StatusInProgress}
	f := NewDataFetcher(SourceFunc(func(_ context.Context, id string) (*visit.Record, error) {
		assert.Equal(t, "v1", id)
		return want, nil
	}), FetcherConfig{}, nil)

	got, err := f.Load(context.Background(), "v1")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestDataFetcher_NotFoundIsNotAnError(t *testing.T) {
	notices := &Collector{}
	f := NewDataFetcher(SourceFunc(func(context.Context, string) (*visit.Record, error) {
		return nil, nil
	}), FetcherConfig{Notifier: notices}, nil)

	rec, err := f.Load(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, notices.Notices())
}

func TestDataFetcher_FailureRaisesToast(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	notices := &Collector{}
	cause := errors.New("visit backend returned status 500")
	f := NewDataFetcher(SourceFunc(func(context.Context, string) (*visit.Record, error) {
		return nil, fmt.Errorf("wrapped: %w", cause)
	}), FetcherConfig{Notifier: notices, Metrics: m}, nil)

	_, err := f.Load(context.Background(), "v1")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "wrapped: visit backend returned status 500", fe.Message)
	assert.ErrorIs(t, err, cause)

	got := notices.Notices()
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Level)
	assert.Equal(t, fe.Message, got[0].Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("toast")))
}

func TestDataFetcher_UnknownErrorMessage(t *testing.T) {
	f := NewDataFetcher(SourceFunc(func(context.Context, string) (*visit.Record, error) {
		return nil, errors.New("")
	}), FetcherConfig{Notifier: &Collector{}}, nil)

	_, err := f.Load(context.Background(), "v1")
	assert.EqualError(t, err, "Unknown error")
}

func TestDataFetcher_BoundedWait(t *testing.T) {
	notices := &Collector{}
	f := NewDataFetcher(SourceFunc(func(ctx context.Context, _ string) (*visit.Record, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), FetcherConfig{Timeout: 20 * time.Millisecond, Notifier: notices}, nil)

	_, err := f.Load(context.Background(), "v1")
	assert.EqualError(t, err, "Request timed out")
	assert.Len(t, notices.Notices(), 1)
}

func TestDataFetcher_CallerCancellationIsSilent(t *testing.T) {
	notices := &Collector{}
	ctx, cancel := context.WithCancel(context.Background())
	f := NewDataFetcher(SourceFunc(func(ctx context.Context, _ string) (*visit.Record, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}), FetcherConfig{Notifier: notices}, nil)

	_, err := f.Load(ctx, "v1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, notices.Notices())
}

func TestNewFetchError(t *testing.T) {
	assert.Equal(t, "Unknown error", NewFetchError(nil).Message)

	inner := &FetchError{Message: "inner"}
	assert.Same(t, inner, NewFetchError(fmt.Errorf("outer: %w", inner)))
}

func TestMultiNotifier(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	Multi{a, nil, b}.Error(context.Background(), "oops")
	assert.Len(t, a.Notices(), 1)
	assert.Len(t, b.Notices(), 1)
}

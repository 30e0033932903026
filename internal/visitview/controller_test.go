package visitview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
	"github.com/drfirst/visitdesk/internal/session"
)

type loadResult struct {
	rec *visit.Record
	err error
}

type pendingLoad struct {
	visitID string
	ctx     context.Context
	reply   chan loadResult
}

// scriptedLoader hands every call to the test, which decides when and how it completes
type scriptedLoader struct {
	calls chan *pendingLoad
}

func newScriptedLoader() *scriptedLoader {
	return &scriptedLoader{calls: make(chan *pendingLoad, 16)}
}

func (l *scriptedLoader) Load(ctx context.Context, visitID string) (*visit.Record, error) {
	p := &pendingLoad{visitID: visitID, ctx: ctx, reply: make(chan loadResult, 1)}
	l.calls <- p
	r := <-p.reply
	return r.rec, r.err
}

func (l *scriptedLoader) next(t *testing.T) *pendingLoad {
	t.Helper()
	select {
	case p := <-l.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("expected a load call")
		return nil
	}
}

func (l *scriptedLoader) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case p := <-l.calls:
		t.Fatalf("unexpected load call for %q", p.visitID)
	case <-time.After(50 * time.Millisecond):
	}
}

func testSession() *session.Session {
	return &session.Session{StaffID: "staff-1", DisplayName: "Dr. Test"}
}

func newTestController(t *testing.T, loader Loader, opts ...Option) *Controller {
	t.Helper()
	c, err := NewController(testSession(), loader, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Unmount)
	return c
}

func waitSettled(t *testing.T, c *Controller) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := c.Wait(ctx)
	require.NoError(t, err)
	return s
}

func TestController_InitialStateIsLoading(t *testing.T) {
	c := newTestController(t, newScriptedLoader())
	assert.Equal(t, PhaseLoading, c.State().Phase)

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestController_MountLoadsRecord(t *testing.T) {
	loader := newScriptedLoader()
	c := newTestController(t, loader)

	c.Mount(context.Background(), "v1")
	assert.Equal(t, PhaseLoading, c.State().Phase)

	call := loader.next(t)
	assert.Equal(t, "v1", call.visitID)
	call.reply <- loadResult{rec: &visit.Record{ID: "v1", Status: visit.StatusCompleted}}

	s := waitSettled(t, c)
	assert.Equal(t, PhaseLoaded, s.Phase)
	assert.Equal(t, "v1", s.Record.ID)
}

func TestController_NilRecordIsEmpty(t *testing.T) {
	loader := newScriptedLoader()
	c := newTestController(t, loader)

	c.Mount(context.Background(), "v1")
	loader.next(t).reply <- loadResult{}

	s := waitSettled(t, c)
	assert.Equal(t, PhaseEmpty, s.Phase)
	assert.Nil(t, s.Record)
}

func TestController_FailureThenRetry(t *testing.T) {
	loader := newScriptedLoader()
	c := newTestController(t, loader)

	var mu sync.Mutex
	var seen []Phase
	c.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s.Phase)
		mu.Unlock()
	})

	c.Mount(context.Background(), "v1")
	loader.next(t).reply <- loadResult{err: &FetchError{Message: "backend down"}}

	s := waitSettled(t, c)
	require.Equal(t, PhaseError, s.Phase)
	assert.Equal(t, "backend down", s.Message)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	require.True(t, c.Retry(context.Background()))
	assert.Equal(t, PhaseLoading, c.State().Phase)

	call := loader.next(t)
	assert.Equal(t, "v1", call.visitID)
	loader.assertNoCall(t)

	call.reply <- loadResult{rec: &visit.Record{ID: "v1"}}
	s = waitSettled(t, c)
	assert.Equal(t, PhaseLoaded, s.Phase)

	want := []Phase{PhaseLoading, PhaseError, PhaseLoading, PhaseLoaded}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual(want, seen)
	}, time.Second, 5*time.Millisecond)
}

func TestController_ListenerReadsStateDuringIdentifierChange(t *testing.T) {
	loader := newScriptedLoader()
	c := newTestController(t, loader)

	entered := make(chan struct{})
	var once sync.Once
	var read State
	c.Subscribe(func(s State) {
		if s.Phase != PhaseLoaded || s.VisitID != "v1" {
			return
		}
		once.Do(func() { close(entered) })
		time.Sleep(100 * time.Millisecond)
		read = c.State()
	})

	c.Mount(context.Background(), "v1")
	loader.next(t).reply <- loadResult{rec: &visit.Record{ID: "v1"}}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the loaded state")
	}

	mounted := make(chan struct{})
	go func() {
		c.Mount(context.Background(), "v2")
		close(mounted)
	}()
	select {
	case <-mounted:
	case <-time.After(2 * time.Second):
		t.Fatal("Mount blocked behind a listener reading State")
	}
	assert.NotEmpty(t, read.VisitID)

	loader.next(t).reply <- loadResult{rec: &visit.Record{ID: "v2"}}
	s := waitSettled(t, c)
	assert.Equal(t, PhaseLoaded, s.Phase)
	assert.Equal(t, "v2", s.Record.ID)
}

func TestController_ListenerSkipsSupersededState(t *testing.T) {
	c := newTestController(t, newScriptedLoader())

	var seen []string
	c.Subscribe(func(s State) { seen = append(seen, s.VisitID) })

	c.mu.Lock()
	c.publishLocked(State{Phase: PhaseLoading, VisitID: "v1", Generation: 1})

	// a newer publication already reached the listeners
	c.notifyMu.Lock()
	c.delivered = c.seq + 1
	c.notifyMu.Unlock()

	c.mu.Lock()
	c.publishLocked(State{Phase: PhaseLoading, VisitID: "late", Generation: 1})
	c.mu.Lock()
	c.publishLocked(State{Phase: PhaseLoading, VisitID: "v3", Generation: 3})

	assert.Equal(t, []string{"v1", "v3"}, seen)
}

func TestController_RetryOnlyFromError(t *testing.T) {
	loader := newScriptedLoader()
	c := newTestController(t, loader)

	assert.False(t, c.Retry(context.Background()))

	c.Mount(context.Background(), "v1")
	assert.False(t, c.Retry(context.Background()))
	loader.next(t).reply <- loadResult{rec: &visit.Record{ID: "v1"}}
	waitSettled(t, c)

	assert.False(t, c.Retry(context.Background()))
	loader.assertNoCall(t)
}

func TestController_EmptyIdentifierIsNoop(t *testing.T) {
	loader := newScriptedLoader()
	c := newTestController(t, loader)

	c.Mount(context.Background(), "")
	loader.assertNoCall(t)
	assert.Equal(t, State{Phase: PhaseLoading}, c.State())

	c.Mount(context.Background(), "v1")
	loader.next(t).reply <- loadResult{rec: &visit.Record{ID: "v1"}}
	before := waitSettled(t, c)

	c.Mount(context.Background(), "")
	loader.assertNoCall(t)
	assert.Equal(t, before, c.State())
}

func TestController_StaleResultAfterNewerIsDropped(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	loader := newScriptedLoader()
	c := newTestController(t, loader, WithMetrics(m))

	c.Mount(context.Background(), "v1")
	first := loader.next(t)
	c.Mount(context.Background(), "v2")
	second := loader.next(t)

	assert.Error(t, first.ctx.Err(), "superseded load should be cancelled")

	second.reply <- loadResult{rec: &visit.Record{ID: "v2"}}
	s := waitSettled(t, c)
	require.Equal(t, "v2", s.Record.ID)

	first.reply <- loadResult{rec: &visit.Record{ID: "v1"}}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.StaleResults) == 1
	}, time.Second, 5*time.Millisecond)

	final := c.State()
	assert.Equal(t, PhaseLoaded, final.Phase)
	assert.Equal(t, "v2", final.VisitID)
	assert.Equal(t, "v2", final.Record.ID)
}

func TestController_StaleResultBeforeNewerIsDropped(t *testing.T) {
	loader := newScriptedLoader()
	c := newTestController(t, loader)

	c.Mount(context.Background(), "v1")
	first := loader.next(t)
	c.Mount(context.Background(), "v2")
	second := loader.next(t)

	first.reply <- loadResult{err: errors.New("late failure")}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, State{Phase: PhaseLoading, VisitID: "v2", Generation: 2}, c.State())

	second.reply <- loadResult{}
	s := waitSettled(t, c)
	assert.Equal(t, PhaseEmpty, s.Phase)
	assert.Equal(t, "v2", s.VisitID)
}

func TestController_UnmountDropsInFlight(t *testing.T) {
	loader := newScriptedLoader()
	c, err := NewController(testSession(), loader)
	require.NoError(t, err)

	c.Mount(context.Background(), "v1")
	call := loader.next(t)
	c.Unmount()

	assert.Error(t, call.ctx.Err())
	call.reply <- loadResult{rec: &visit.Record{ID: "v1"}}

	_, err = c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, PhaseLoading, c.State().Phase)

	c.Mount(context.Background(), "v2")
	loader.assertNoCall(t)
}

func TestController_RecordsOutcomeMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	loader := newScriptedLoader()
	c := newTestController(t, loader, WithMetrics(m))

	c.Mount(context.Background(), "v1")
	loader.next(t).reply <- loadResult{err: errors.New("x")}
	waitSettled(t, c)
	c.Retry(context.Background())
	loader.next(t).reply <- loadResult{rec: &visit.Record{ID: "v1"}}
	waitSettled(t, c)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewLoads.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewLoads.WithLabelValues("loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
}

func TestNewController_RequiresSession(t *testing.T) {
	_, err := NewController(nil, newScriptedLoader())
	assert.ErrorIs(t, err, session.ErrNoSession)

	_, err = NewController(&session.Session{}, newScriptedLoader())
	assert.ErrorIs(t, err, session.ErrNoSession)

	_, err = NewController(testSession(), nil)
	assert.Error(t, err)
}

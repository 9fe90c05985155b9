package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/tracer/internal/classify"
	"github.com/navshield/tracer/internal/config"
	"github.com/navshield/tracer/internal/correlate"
	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/store"
)

type fakeSource struct {
	events []event.Event
	idx    int
}

func (f *fakeSource) Next(ctx context.Context) (event.Event, bool, error) {
	if f.idx >= len(f.events) {
		<-ctx.Done()
		return event.Event{}, false, nil
	}
	ev := f.events[f.idx]
	f.idx++
	return ev, true, nil
}

type recordingSink struct {
	handled []event.Event
}

func (r *recordingSink) Handle(ctx context.Context, ev event.Event) error {
	r.handled = append(r.handled, ev)
	return nil
}

type zeroCounter struct{}

func (zeroCounter) ActiveProcessCount() int { return 0 }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracer.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRun_ForwardsEventsToSinkThenStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	sessionID, err := s.BeginSession(t.Context(), store.NewSessionInfo{TargetProcess: "powershell.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)

	sink := &recordingSink{}
	engine := correlate.New(s, config.Default())
	classifier := classify.New(s, sessionID, "")

	sup := NewMonitorSupervisor(s, sessionID, sink, engine, classifier, zeroCounter{}, time.Hour, nil)

	source := &fakeSource{events: []event.Event{
		{Header: event.Header{SessionID: sessionID, Kind: event.KindProcessCreate, RecordID: 1}},
		{Header: event.Header{SessionID: sessionID, Kind: event.KindProcessCreate, RecordID: 2}},
	}}

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	_ = sup.Run(ctx, source)
	assert.Len(t, sink.handled, 2)
}

func TestRun_TicksCorrelationOnCadence(t *testing.T) {
	s := newTestStore(t)
	sessionID, err := s.BeginSession(t.Context(), store.NewSessionInfo{TargetProcess: "powershell.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)

	sink := &recordingSink{}
	engine := correlate.New(s, config.Default())
	classifier := classify.New(s, sessionID, "")

	sup := NewMonitorSupervisor(s, sessionID, sink, engine, classifier, zeroCounter{}, 20*time.Millisecond, nil)

	source := &fakeSource{}
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_ = sup.Run(ctx, source)

	snapshots, err := s.ListSnapshots(t.Context(), sessionID, 10, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, snapshots)
}

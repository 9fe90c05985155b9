package lineage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store, int64) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracer.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sessionID, err := s.BeginSession(t.Context(), store.NewSessionInfo{
		TargetProcess: "notepad.exe", Kind: store.SessionMonitor,
	})
	require.NoError(t, err)

	tracker := New(s, sessionID, "notepad.exe", nil)
	return tracker, s, sessionID
}

type fakeEnumerator struct {
	procs []enumeratedProcess
}

func (f fakeEnumerator) Enumerate() ([]enumeratedProcess, error) {
	return f.procs, nil
}

func processCreateEvent(sessionID int64, recordID int64, pid, ppid int, image string) event.Event {
	return event.Event{
		Header: event.Header{
			SessionID: sessionID, Kind: event.KindProcessCreate, Host: "WS01",
			RecordID: recordID, SensorTime: time.Now().UTC(), CaptureTime: time.Now().UTC(),
		},
		Payload: event.ProcessPayload{PID: pid, PPID: ppid, Image: image},
	}
}

func TestInitialize_SeedsMonitoredSetFromMatchingBasename(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	err := tracker.initializeWith(fakeEnumerator{procs: []enumeratedProcess{
		{PID: 100, Name: "notepad.exe", StartTime: time.Now().UTC()},
		{PID: 200, Name: "explorer.exe", StartTime: time.Now().UTC()},
	}})
	require.NoError(t, err)

	stats := tracker.Statistics()
	assert.Equal(t, 1, stats.ActiveCount)
	assert.Equal(t, 1, stats.TotalTracked)
}

func TestHandle_ProcessCreate_AdoptsChildOfMonitoredParent(t *testing.T) {
	tracker, s, sessionID := newTestTracker(t)

	root := processCreateEvent(sessionID, 1, 100, 1, "notepad.exe")
	require.NoError(t, tracker.Handle(t.Context(), root))

	child := processCreateEvent(sessionID, 2, 200, 100, "cmd.exe")
	require.NoError(t, tracker.Handle(t.Context(), child))

	stats := tracker.Statistics()
	assert.Equal(t, 2, stats.ActiveCount)

	count, err := s.CountEvents(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHandle_ProcessCreate_DropsUnrelatedProcess(t *testing.T) {
	tracker, s, sessionID := newTestTracker(t)

	unrelated := processCreateEvent(sessionID, 1, 500, 1, "chrome.exe")
	require.NoError(t, tracker.Handle(t.Context(), unrelated))

	stats := tracker.Statistics()
	assert.Equal(t, 0, stats.ActiveCount)
	assert.Equal(t, uint64(0), stats.DroppedEvents)
	assert.Equal(t, uint64(1), stats.NoiseFiltered)

	count, err := s.CountEvents(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestHandle_ProcessTerminate_RemovesFromMonitoredSetAndRecordsLifetime(t *testing.T) {
	tracker, _, sessionID := newTestTracker(t)

	create := processCreateEvent(sessionID, 1, 100, 1, "notepad.exe")
	require.NoError(t, tracker.Handle(t.Context(), create))

	terminate := event.Event{
		Header: event.Header{
			SessionID: sessionID, Kind: event.KindProcessTerminate, Host: "WS01",
			RecordID: 2, SensorTime: create.Header.SensorTime.Add(5 * time.Second),
		},
		Payload: event.ProcessPayload{PID: 100, Image: "notepad.exe"},
	}
	require.NoError(t, tracker.Handle(t.Context(), terminate))

	stats := tracker.Statistics()
	assert.Equal(t, 0, stats.ActiveCount)
	assert.Equal(t, 1, stats.TerminatedCount)
	assert.Equal(t, 5*time.Second, stats.MeanTerminatedLifetime)
}

func TestHandle_LateProcessCreateAfterParentTermination_IsNotAdopted(t *testing.T) {
	tracker, _, sessionID := newTestTracker(t)

	create := processCreateEvent(sessionID, 1, 100, 1, "notepad.exe")
	require.NoError(t, tracker.Handle(t.Context(), create))

	terminate := event.Event{
		Header: event.Header{SessionID: sessionID, Kind: event.KindProcessTerminate, Host: "WS01", RecordID: 2, SensorTime: create.Header.SensorTime},
		Payload: event.ProcessPayload{PID: 100},
	}
	require.NoError(t, tracker.Handle(t.Context(), terminate))

	lateChild := processCreateEvent(sessionID, 3, 200, 100, "cmd.exe")
	require.NoError(t, tracker.Handle(t.Context(), lateChild))

	stats := tracker.Statistics()
	assert.Equal(t, 0, stats.ActiveCount)
}

func TestHandle_OtherEventKind_ForwardsOnlyForMonitoredPID(t *testing.T) {
	tracker, s, sessionID := newTestTracker(t)

	create := processCreateEvent(sessionID, 1, 100, 1, "notepad.exe")
	require.NoError(t, tracker.Handle(t.Context(), create))

	netEvent := event.Event{
		Header: event.Header{SessionID: sessionID, Kind: event.KindNetworkConnect, Host: "WS01", RecordID: 2, SensorTime: time.Now().UTC()},
		Payload: event.NetworkPayload{PID: 100, DstIP: "10.0.0.5", DstPort: 443, Protocol: "tcp"},
	}
	require.NoError(t, tracker.Handle(t.Context(), netEvent))

	unrelatedNet := event.Event{
		Header: event.Header{SessionID: sessionID, Kind: event.KindNetworkConnect, Host: "WS01", RecordID: 3, SensorTime: time.Now().UTC()},
		Payload: event.NetworkPayload{PID: 999, DstIP: "10.0.0.5", DstPort: 443, Protocol: "tcp"},
	}
	require.NoError(t, tracker.Handle(t.Context(), unrelatedNet))

	count, err := s.CountEvents(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, count) // process-create + the monitored network event
}

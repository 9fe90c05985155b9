package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/tracer/internal/event"
)

func TestEventsOfSession_OrdersBySensorTimeThenCaptureTimeThenSequence(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionCatalog)

	later := sampleProcessEvent(1)
	later.SensorTime = time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)
	earlier := sampleProcessEvent(2)
	earlier.SensorTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertEvent(t.Context(), sessionID, later))
	require.NoError(t, s.InsertEvent(t.Context(), sessionID, earlier))

	events, err := s.EventsOfSession(t.Context(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].RecordID)
	assert.Equal(t, int64(1), events[1].RecordID)
}

func TestEventsOfSession_NullSensorTimeSortsAfterKnownTimes(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionCatalog)

	withTime := sampleProcessEvent(1)
	withoutTime := sampleProcessEvent(2)
	withoutTime.SensorTime = time.Time{}

	require.NoError(t, s.InsertEvent(t.Context(), sessionID, withoutTime))
	require.NoError(t, s.InsertEvent(t.Context(), sessionID, withTime))

	events, err := s.EventsOfSession(t.Context(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].RecordID)
	assert.Equal(t, int64(2), events[1].RecordID)
}

func TestEventsSince_ReturnsOnlyNewerSequenceNumbers(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionCatalog)

	require.NoError(t, s.InsertEvent(t.Context(), sessionID, sampleProcessEvent(1)))
	all, err := s.EventsOfSession(t.Context(), sessionID)
	require.NoError(t, err)
	cursor := all[0].SequenceNum

	require.NoError(t, s.InsertEvent(t.Context(), sessionID, sampleProcessEvent(2)))

	newer, err := s.EventsSince(t.Context(), sessionID, cursor)
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, int64(2), newer[0].RecordID)
}

func TestCriticalEventCounts_OnlyCountsCriticalKinds(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionCatalog)

	require.NoError(t, s.InsertEvent(t.Context(), sessionID, sampleProcessEvent(1)))
	noise := event.Event{
		Header: event.Header{Kind: event.KindDriverLoad, Host: "WORKSTATION01", RecordID: 2},
		Payload: event.GenericPayload{},
	}
	require.NoError(t, s.InsertEvent(t.Context(), sessionID, noise))

	counts, err := s.CriticalEventCounts(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[event.KindProcessCreate])
	assert.NotContains(t, counts, event.KindDriverLoad)
}

func TestEventsOfSession_RoundTripsProcessPayload(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionCatalog)

	ev := sampleProcessEvent(1)
	require.NoError(t, s.InsertEvent(t.Context(), sessionID, ev))

	events, err := s.EventsOfSession(t.Context(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got, ok := events[0].Payload.(event.ProcessPayload)
	require.True(t, ok)
	assert.Equal(t, 4242, got.PID)
	assert.Equal(t, `C:\Windows\System32\notepad.exe`, got.Image)
}

package correlate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/tracer/internal/config"
	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracer.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, config.Default()), s
}

type fixedCounter int

func (f fixedCounter) ActiveProcessCount() int { return int(f) }

func seedSignature(t *testing.T, s *store.Store, techniqueID string, pattern []event.Kind) int64 {
	t.Helper()
	catalogSession, err := s.BeginSession(t.Context(), store.NewSessionInfo{TargetProcess: "powershell.exe", Kind: store.SessionCatalog})
	require.NoError(t, err)
	testID, err := s.StartTest(t.Context(), techniqueID, techniqueID, "", catalogSession)
	require.NoError(t, err)

	histogram := make(map[int]int)
	corePattern := make([]store.CoreEventEntry, 0, len(pattern))
	for i, k := range pattern {
		histogram[int(k)]++
		corePattern = append(corePattern, store.CoreEventEntry{Position: i, EventKind: int(k)})
	}

	_, err = s.SaveNormalization(t.Context(), testID, store.Signature{
		SignatureHash: techniqueID + "-hash",
		FeatureVector: store.FeatureVector{EventTypeHistogram: histogram, CriticalEventsCount: len(pattern)},
		CoreEventCount: len(pattern),
		Status:        store.StatusCompleted,
		Severity:      "yellow",
		CorePattern:   corePattern,
	})
	require.NoError(t, err)
	require.NoError(t, s.FinishTest(t.Context(), testID, len(pattern)))
	return testID
}

func liveSession(t *testing.T, s *store.Store, kinds []event.Kind) int64 {
	t.Helper()
	sessionID, err := s.BeginSession(t.Context(), store.NewSessionInfo{TargetProcess: "powershell.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, k := range kinds {
		var payload event.Payload
		switch k {
		case event.KindProcessCreate:
			payload = event.ProcessPayload{PID: 100, Image: "powershell.exe"}
		case event.KindDNSQuery:
			payload = event.DNSPayload{PID: 100, Query: "evil.example"}
		case event.KindFileCreate:
			payload = event.FilePayload{PID: 100, TargetFilename: "dropper.exe"}
		default:
			payload = event.GenericPayload{PID: 100}
		}
		require.NoError(t, s.InsertEvent(t.Context(), sessionID, event.Event{
			Header:  event.Header{SessionID: sessionID, Kind: k, Host: "WS01", RecordID: int64(i + 1), SensorTime: base.Add(time.Duration(i) * time.Second)},
			Payload: payload,
		}))
	}
	return sessionID
}

func TestScan_ExactMatchScoresNearOne(t *testing.T) {
	e, s := newTestEngine(t)
	pattern := []event.Kind{event.KindProcessCreate, event.KindDNSQuery, event.KindFileCreate}
	seedSignature(t, s, "T1059.001", pattern)

	sessionID := liveSession(t, s, pattern)

	snapshot, err := e.Scan(t.Context(), sessionID, fixedCounter(1))
	require.NoError(t, err)
	require.Len(t, snapshot.Matches, 1)
	match := snapshot.Matches[0]
	assert.Greater(t, match.Similarity, 0.9)
	assert.Equal(t, store.ConfidenceHigh, match.Confidence)
	assert.Equal(t, "T1059.001", snapshot.HighestMatchTechniqueID)
	assert.Equal(t, 1, snapshot.ActiveProcessCount)
}

func TestScan_UnrelatedSessionScoresLow(t *testing.T) {
	e, s := newTestEngine(t)
	seedSignature(t, s, "T1059.001", []event.Kind{event.KindProcessCreate, event.KindDNSQuery, event.KindFileCreate})

	sessionID := liveSession(t, s, []event.Kind{event.KindClipboardChange})

	snapshot, err := e.Scan(t.Context(), sessionID, fixedCounter(0))
	require.NoError(t, err)
	require.Len(t, snapshot.Matches, 1)
	assert.Less(t, snapshot.Matches[0].Similarity, 0.3)
}

func TestScan_PartialOrderedPrefixScoresBetweenZeroAndOne(t *testing.T) {
	e, s := newTestEngine(t)
	pattern := []event.Kind{event.KindProcessCreate, event.KindDNSQuery, event.KindFileCreate}
	seedSignature(t, s, "T1059.001", pattern)

	sessionID := liveSession(t, s, []event.Kind{event.KindProcessCreate, event.KindDNSQuery})

	snapshot, err := e.Scan(t.Context(), sessionID, fixedCounter(1))
	require.NoError(t, err)
	match := snapshot.Matches[0]
	assert.InDelta(t, 2.0/3.0, match.OrderedSimilarity, 0.01)
	assert.InDelta(t, 2.0/3.0, match.StructuralSimilarity, 0.01)
}

func TestApplyWhitelist_DropsApprovedDestination(t *testing.T) {
	events := []event.Event{
		{Header: event.Header{Kind: event.KindDNSQuery}, Payload: event.DNSPayload{Query: "benign.example"}},
		{Header: event.Header{Kind: event.KindDNSQuery}, Payload: event.DNSPayload{Query: "evil.example"}},
	}
	filtered := applyWhitelist(events, []store.WhitelistEntry{
		{EntryType: "DOMAIN", Value: "benign.example", Approved: true},
	})
	require.Len(t, filtered, 1)
	assert.Equal(t, "evil.example", filtered[0].Payload.(event.DNSPayload).Query)
}

func TestCosineSimilarity_BothZeroReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), cosineSimilarity(map[int]int{}, map[int]int{}))
}

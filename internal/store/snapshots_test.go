package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(sessionID int64, level SeverityLevel) Snapshot {
	return Snapshot{
		SessionID: sessionID,
		Matches: []Match{
			{TestID: 1, TechniqueID: "T1059.001", DisplayName: "PowerShell", Similarity: 0.71, Confidence: ConfidenceMedium, Severity: "yellow"},
		},
		HighestMatchTechniqueID: "T1059.001",
		HighestMatchSimilarity:  0.71,
		SessionThreatLevel:      level,
		EventCountAtSnapshot:    10,
		ActiveProcessCount:      2,
	}
}

func TestAppendSnapshot_LatestSnapshotReturnsMostRecent(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionMonitor)

	_, err := s.AppendSnapshot(t.Context(), sampleSnapshot(sessionID, SeverityBlue))
	require.NoError(t, err)
	_, err = s.AppendSnapshot(t.Context(), sampleSnapshot(sessionID, SeverityYellow))
	require.NoError(t, err)

	latest, ok, err := s.LatestSnapshot(t.Context(), sessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SeverityYellow, latest.SessionThreatLevel)
	require.Len(t, latest.Matches, 1)
	assert.Equal(t, "T1059.001", latest.Matches[0].TechniqueID)
}

func TestLatestSnapshot_OkFalseWithNoTicks(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionMonitor)

	_, ok, err := s.LatestSnapshot(t.Context(), sessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSnapshots_PaginatesOldestFirst(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionMonitor)

	for _, level := range []SeverityLevel{SeverityGreen, SeverityBlue, SeverityYellow} {
		_, err := s.AppendSnapshot(t.Context(), sampleSnapshot(sessionID, level))
		require.NoError(t, err)
	}

	page, err := s.ListSnapshots(t.Context(), sessionID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, SeverityGreen, page[0].SessionThreatLevel)
	assert.Equal(t, SeverityBlue, page[1].SessionThreatLevel)
}

func TestAppendAlert_ListAlertsOrdersMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionMonitor)

	_, err := s.AppendAlert(t.Context(), Alert{
		SessionID: sessionID, PreviousLevel: SeverityGreen, NewLevel: SeverityBlue, Reason: "first critical event observed",
	})
	require.NoError(t, err)
	_, err = s.AppendAlert(t.Context(), Alert{
		SessionID: sessionID, PreviousLevel: SeverityBlue, NewLevel: SeverityYellow, Reason: "matched catalog technique",
	})
	require.NoError(t, err)

	alerts, err := s.ListAlerts(t.Context(), 0, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, SeverityYellow, alerts[0].NewLevel)

	count, err := s.CountAlerts(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

package classify

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/tracer/internal/store"
)

func newTestClassifier(t *testing.T) (*Classifier, *store.Store, int64) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracer.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sessionID, err := s.BeginSession(t.Context(), store.NewSessionInfo{TargetProcess: "powershell.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)

	return New(s, sessionID, ""), s, sessionID
}

func snapshotWithMatch(similarity float64, confidence store.ConfidenceTier, severity string, techniqueID string) store.Snapshot {
	return store.Snapshot{
		Matches: []store.Match{
			{TestID: 1, TechniqueID: techniqueID, Similarity: similarity, Confidence: confidence, Severity: severity},
		},
	}
}

func appendSnapshot(t *testing.T, s *store.Store, sessionID int64, snap store.Snapshot) int64 {
	t.Helper()
	id, err := s.AppendSnapshot(t.Context(), snap)
	require.NoError(t, err)
	return id
}

func TestApply_SeverityIsMonotonicAcrossFluctuatingSnapshots(t *testing.T) {
	c, s, sessionID := newTestClassifier(t)

	sequence := []struct {
		similarity float64
		confidence store.ConfidenceTier
		severity   string
	}{
		{0.2, store.ConfidenceLow, "green"},
		{0.6, store.ConfidenceMedium, "red"},
		{0.3, store.ConfidenceLow, "red"},
		{0.0, store.ConfidenceLow, "red"},
		{0.55, store.ConfidenceMedium, "yellow"},
	}

	wantLevels := []store.SeverityLevel{
		store.SeverityGreen, store.SeverityRed, store.SeverityRed, store.SeverityRed, store.SeverityRed,
	}
	alertCount := 0

	for i, step := range sequence {
		snap := snapshotWithMatch(step.similarity, step.confidence, step.severity, "T1055")
		snap.SessionID = sessionID
		snapshotID := appendSnapshot(t, s, sessionID, snap)

		level, alert, err := c.Apply(t.Context(), snapshotID, snap)
		require.NoError(t, err)
		assert.Equal(t, wantLevels[i], level, "step %d", i)
		if alert != nil {
			alertCount++
		}
	}

	assert.Equal(t, 1, alertCount)
}

func TestApply_EmptySignificantSetHoldsPreviousLevel(t *testing.T) {
	c, _, _ := newTestClassifier(t)

	level, alert, err := c.Apply(t.Context(), 1, store.Snapshot{
		Matches: []store.Match{{Confidence: store.ConfidenceLow, Severity: "red"}},
	})
	require.NoError(t, err)
	assert.Equal(t, store.SeverityGreen, level)
	assert.Nil(t, alert)
}

func TestApply_AlertCarriesDominantTechnique(t *testing.T) {
	c, s, sessionID := newTestClassifier(t)

	snap := snapshotWithMatch(0.8, store.ConfidenceHigh, "orange", "T1219")
	snap.SessionID = sessionID
	snapshotID := appendSnapshot(t, s, sessionID, snap)

	_, alert, err := c.Apply(t.Context(), snapshotID, snap)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "T1219", alert.TriggerTechniqueID)
	assert.Equal(t, store.SeverityOrange, alert.NewLevel)
	assert.Equal(t, store.SeverityGreen, alert.PreviousLevel)
}

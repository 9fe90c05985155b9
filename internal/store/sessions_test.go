package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginSession_AssignsIncrementingIDs(t *testing.T) {
	s := newTestStore(t)

	first := newTestSession(t, s, SessionMonitor)
	second := newTestSession(t, s, SessionMonitor)
	assert.Greater(t, second, first)
}

func TestCompleteSession_SetsEndedAt(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionMonitor)

	sess, err := s.GetSession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Nil(t, sess.EndedAt)

	require.NoError(t, s.CompleteSession(t.Context(), sessionID, ""))

	sess, err = s.GetSession(t.Context(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
}

func TestListSessions_OrdersMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	first := newTestSession(t, s, SessionMonitor)
	second := newTestSession(t, s, SessionCatalog)

	sessions, err := s.ListSessions(t.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second, sessions[0].ID)
	assert.Equal(t, first, sessions[1].ID)
}

func TestSessionStats_ComposesEventCountAndCriticalBreakdown(t *testing.T) {
	s := newTestStore(t)
	sessionID := newTestSession(t, s, SessionCatalog)
	require.NoError(t, s.InsertEvent(t.Context(), sessionID, sampleProcessEvent(1)))

	stats, err := s.SessionStats(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EventCount)
	assert.True(t, stats.Active)
	assert.Equal(t, 1, stats.CriticalEventCounts[1])
}

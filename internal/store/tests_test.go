package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogTest(t *testing.T, s *Store) (testID, sessionID int64) {
	t.Helper()
	sessionID = newTestSession(t, s, SessionCatalog)
	testID, err := s.StartTest(t.Context(), "T1059.001", "PowerShell", "Execute a PowerShell one-liner", sessionID)
	require.NoError(t, err)
	return testID, sessionID
}

func TestStartTest_DefaultsToPendingUnfinalized(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)

	test, err := s.GetTest(t.Context(), testID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, test.Status)
	assert.False(t, test.Finalized)
}

func TestFinishTest_SetsFinalizedAndTotalEvents(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)

	require.NoError(t, s.FinishTest(t.Context(), testID, 12))

	test, err := s.GetTest(t.Context(), testID)
	require.NoError(t, err)
	assert.True(t, test.Finalized)
	assert.Equal(t, 12, test.TotalEvents)
}

func TestUpdateTest_RecordsNormalizationOutcome(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)

	require.NoError(t, s.UpdateTest(t.Context(), testID, StatusCompleted, "yellow", "matched one core event pattern"))

	test, err := s.GetTest(t.Context(), testID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, test.Status)
	assert.Equal(t, "yellow", test.Severity)
	require.NotNil(t, test.NormalizedAt)
}

func TestDeleteTest_CascadesToSessionAndEvents(t *testing.T) {
	s := newTestStore(t)
	testID, sessionID := newCatalogTest(t, s)
	require.NoError(t, s.InsertEvent(t.Context(), sessionID, sampleProcessEvent(1)))

	require.NoError(t, s.DeleteTest(t.Context(), testID))

	_, err := s.GetTest(t.Context(), testID)
	assert.Error(t, err)

	count, err := s.CountEvents(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestListTests_OrdersMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	first, _ := newCatalogTest(t, s)
	second, _ := newCatalogTest(t, s)

	tests, err := s.ListTests(t.Context())
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, second, tests[0].ID)
	assert.Equal(t, first, tests[1].ID)
}

func TestGetTestSummary_OkFalseBeforeNormalization(t *testing.T) {
	s := newTestStore(t)
	testID, _ := newCatalogTest(t, s)

	_, _, ok, err := s.GetTestSummary(t.Context(), testID)
	require.NoError(t, err)
	assert.False(t, ok)
}

package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/tracer/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracer.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestBegin_RejectsSecondActiveSessionForSameTarget(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "notepad.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)

	_, err = m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "NOTEPAD.EXE", Kind: store.SessionMonitor})
	assert.Error(t, err)
}

func TestBegin_AllowsDifferentTargetsConcurrently(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "notepad.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)

	_, err = m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "cmd.exe", Kind: store.SessionCatalog})
	assert.NoError(t, err)
}

func TestComplete_ReleasesTargetSlot(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "notepad.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)
	assert.True(t, m.IsActive("notepad.exe"))

	require.NoError(t, m.Complete(t.Context(), id, "done"))
	assert.False(t, m.IsActive("notepad.exe"))

	_, err = m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "notepad.exe", Kind: store.SessionMonitor})
	assert.NoError(t, err)
}

func TestIsMonitor_DistinguishesSessionKind(t *testing.T) {
	m := newTestManager(t)

	monitorID, err := m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "notepad.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)
	catalogID, err := m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "cmd.exe", Kind: store.SessionCatalog})
	require.NoError(t, err)

	isMonitor, err := m.IsMonitor(t.Context(), monitorID)
	require.NoError(t, err)
	assert.True(t, isMonitor)

	isMonitor, err = m.IsMonitor(t.Context(), catalogID)
	require.NoError(t, err)
	assert.False(t, isMonitor)
}

func TestActiveSessionID_ReturnsHeldSlot(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Begin(t.Context(), store.NewSessionInfo{TargetProcess: "notepad.exe", Kind: store.SessionMonitor})
	require.NoError(t, err)

	got, ok := m.ActiveSessionID("notepad.exe")
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = m.ActiveSessionID("unknown.exe")
	assert.False(t, ok)
}

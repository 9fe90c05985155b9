package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracer.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSession(t *testing.T, s *Store, kind SessionKind) int64 {
	t.Helper()
	id, err := s.BeginSession(t.Context(), NewSessionInfo{
		TargetProcess: "notepad.exe",
		RootPID:       4242,
		Host:          "WORKSTATION01",
		User:          "alice",
		OSVersion:     "Windows 11",
		Kind:          kind,
	})
	require.NoError(t, err)
	return id
}

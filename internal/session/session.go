// Package session owns the lifecycle of monitor and catalog sessions: the
// {none -> active -> completed} transition, and the rule that at most one
// active session may exist per target process inside this process. The
// store itself tolerates any number of concurrently open sessions; the
// one-active-per-target rule is enforced here, above it.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/navshield/tracer/internal/store"
)

// Manager tracks active sessions by target process and drives their
// begin/complete transitions against the store.
type Manager struct {
	store *store.Store

	mu     sync.Mutex
	active map[string]int64 // target process (lowercased) -> session id
}

// New returns a Manager backed by s.
func New(s *store.Store) *Manager {
	return &Manager{
		store:  s,
		active: make(map[string]int64),
	}
}

func normalizeTarget(target string) string {
	return strings.ToLower(target)
}

// Begin opens a new session for info.TargetProcess. It fails if a session
// for the same target is already active in this process; the store is not
// consulted for cross-process collisions, per the lifecycle rule that only
// this process's own concurrency is serialized here.
func (m *Manager) Begin(ctx context.Context, info store.NewSessionInfo) (int64, error) {
	key := normalizeTarget(info.TargetProcess)

	m.mu.Lock()
	if _, exists := m.active[key]; exists {
		m.mu.Unlock()
		return 0, fmt.Errorf("session: target %q already has an active session in this process", info.TargetProcess)
	}
	// Reserve the slot before the store round-trip so a second Begin for
	// the same target cannot race in while this one is in flight.
	m.active[key] = -1
	m.mu.Unlock()

	id, err := m.store.BeginSession(ctx, info)
	if err != nil {
		m.mu.Lock()
		delete(m.active, key)
		m.mu.Unlock()
		return 0, fmt.Errorf("session: begin: %w", err)
	}

	m.mu.Lock()
	m.active[key] = id
	m.mu.Unlock()
	return id, nil
}

// Complete stamps ended_at on sessionID and releases its target slot. It is
// safe to call even if the session was not opened through this Manager
// instance (e.g. after a process restart); in that case no slot is
// released because none was held.
func (m *Manager) Complete(ctx context.Context, sessionID int64, summary string) error {
	if err := m.store.CompleteSession(ctx, sessionID, summary); err != nil {
		return fmt.Errorf("session: complete: %w", err)
	}

	m.mu.Lock()
	for target, id := range m.active {
		if id == sessionID {
			delete(m.active, target)
			break
		}
	}
	m.mu.Unlock()
	return nil
}

// IsActive reports whether target currently holds an active session slot
// in this process.
func (m *Manager) IsActive(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[normalizeTarget(target)]
	return ok
}

// ActiveSessionID returns the session id active for target in this
// process, if any.
func (m *Manager) ActiveSessionID(target string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[normalizeTarget(target)]
	if !ok || id < 0 {
		return 0, false
	}
	return id, true
}

// Get retrieves a session by id, regardless of whether it is active in
// this process.
func (m *Manager) Get(ctx context.Context, sessionID int64) (store.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// List returns every session known to the store, most recent first.
func (m *Manager) List(ctx context.Context) ([]store.Session, error) {
	return m.store.ListSessions(ctx)
}

// Stats composes a session's event counts with its lifecycle state.
func (m *Manager) Stats(ctx context.Context, sessionID int64) (store.SessionStats, error) {
	return m.store.SessionStats(ctx, sessionID)
}

// IsMonitor reports whether sessionID is a monitor session (feeds
// correlation) as opposed to a catalog session (feeds normalization).
func (m *Manager) IsMonitor(ctx context.Context, sessionID int64) (bool, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return sess.Kind == store.SessionMonitor, nil
}

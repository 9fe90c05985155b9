package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BeginSession opens a new session row and returns its id. Callers enforce
// the one-active-session-per-target-per-process rule above the store; the
// store itself accepts any number of concurrently open sessions.
func (s *Store) BeginSession(ctx context.Context, info NewSessionInfo) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (started_at, target_process, root_pid, host, user, os_version, kind, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		time.Now().UTC().Format(time.RFC3339Nano),
		info.TargetProcess, info.RootPID, info.Host, info.User, info.OSVersion,
		string(info.Kind), info.Notes,
	)
	if err != nil {
		return 0, fmt.Errorf("begin session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin session: last insert id: %w", err)
	}
	return id, nil
}

// CompleteSession stamps ended_at on sessionID and, if summary is
// non-empty, appends it to notes. Calling it twice is harmless but not
// a no-op: the second call overwrites ended_at with a later timestamp
// and appends summary again. Operator intent on a re-complete is
// genuinely ambiguous; this store keeps the source's overwrite-and-append
// behavior rather than silently resolving it.
func (s *Store) CompleteSession(ctx context.Context, sessionID int64, summary string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if summary == "" {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, now, sessionID)
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, notes = notes || char(10) || ? WHERE id = ?
	`, now, summary, sessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// GetSession retrieves a single session by id.
func (s *Store) GetSession(ctx context.Context, sessionID int64) (Session, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, target_process, root_pid, host, user, os_version, kind, notes
		FROM sessions WHERE id = ?
	`, sessionID)
	return scanSession(row)
}

// ListSessions returns every session, most recently started first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, started_at, ended_at, target_process, root_pid, host, user, os_version, kind, notes
		FROM sessions ORDER BY started_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SessionStats summarizes a session's activity: event count, critical-event
// breakdown and whether it is still open. Composed from EventsOfSession's
// sibling queries rather than stored redundantly.
type SessionStats struct {
	Session             Session
	EventCount          int
	CriticalEventCounts map[int]int
	Active              bool
}

// SessionStats assembles a SessionStats for sessionID by composing
// GetSession, CountEvents and CriticalEventCounts. It does not introduce a
// new query path; it is a read-side convenience for the CLI's
// "sessions stats" command.
func (s *Store) SessionStats(ctx context.Context, sessionID int64) (SessionStats, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	count, err := s.CountEvents(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	critical, err := s.CriticalEventCounts(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	byKind := make(map[int]int, len(critical))
	for k, n := range critical {
		byKind[int(k)] = n
	}
	return SessionStats{
		Session:             sess,
		EventCount:          count,
		CriticalEventCounts: byKind,
		Active:              sess.EndedAt == nil,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (Session, error) {
	return scanSessionScanner(row)
}

func scanSessionRows(rows *sql.Rows) (Session, error) {
	return scanSessionScanner(rows)
}

func scanSessionScanner(r rowScanner) (Session, error) {
	var (
		sess                         Session
		startedAt                    string
		endedAt                      sql.NullString
		rootPID                      sql.NullInt64
		host, user, osVersion, notes sql.NullString
		kind                         string
	)
	err := r.Scan(&sess.ID, &startedAt, &endedAt, &sess.TargetProcess, &rootPID, &host, &user, &osVersion, &kind, &notes)
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		sess.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
			sess.EndedAt = &t
		}
	}
	sess.RootPID = int(rootPID.Int64)
	sess.Host = host.String
	sess.User = user.String
	sess.OSVersion = osVersion.String
	sess.Kind = SessionKind(kind)
	sess.Notes = notes.String
	return sess, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendSnapshot persists one correlation tick's scoring output for a
// session. Snapshots are append-only: there is no update path, since every
// tick is a new point-in-time observation.
func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	matchesJSON, err := marshalMatches(snap.Matches)
	if err != nil {
		return 0, fmt.Errorf("append snapshot: marshal matches: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_similarity_snapshots
		(session_id, snapshot_at, matches, highest_match_technique_id, highest_match_similarity,
		 session_threat_level, event_count_at_snapshot, active_process_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.SessionID, time.Now().UTC().Format(time.RFC3339Nano), matchesJSON,
		snap.HighestMatchTechniqueID, snap.HighestMatchSimilarity, string(snap.SessionThreatLevel),
		snap.EventCountAtSnapshot, snap.ActiveProcessCount,
	)
	if err != nil {
		return 0, fmt.Errorf("append snapshot: %w", err)
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the most recent snapshot for sessionID. ok is
// false when the session has not yet had a correlation tick.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID int64) (snap Snapshot, ok bool, err error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, session_id, snapshot_at, matches, highest_match_technique_id, highest_match_similarity,
		       session_threat_level, event_count_at_snapshot, active_process_count
		FROM session_similarity_snapshots
		WHERE session_id = ?
		ORDER BY snapshot_at DESC, id DESC
		LIMIT 1
	`, sessionID)
	snap, err = scanSnapshot(row)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// ListSnapshots returns snapshots for sessionID, oldest first, paginated by
// limit/offset (limit <= 0 means unbounded).
func (s *Store) ListSnapshots(ctx context.Context, sessionID int64, limit, offset int) ([]Snapshot, error) {
	query := `
		SELECT id, session_id, snapshot_at, matches, highest_match_technique_id, highest_match_similarity,
		       session_threat_level, event_count_at_snapshot, active_process_count
		FROM session_similarity_snapshots
		WHERE session_id = ?
		ORDER BY snapshot_at ASC, id ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// AppendAlert records a severity escalation. snapshotID is optional (nil
// when the alert is synthesized outside a normal correlation tick).
func (s *Store) AppendAlert(ctx context.Context, alert Alert) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history
		(session_id, timestamp, previous_level, new_level, reason, trigger_technique_id,
		 trigger_similarity, snapshot_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.SessionID, time.Now().UTC().Format(time.RFC3339Nano), string(alert.PreviousLevel),
		string(alert.NewLevel), alert.Reason, alert.TriggerTechniqueID, alert.TriggerSimilarity,
		alert.SnapshotID,
	)
	if err != nil {
		return 0, fmt.Errorf("append alert: %w", err)
	}
	return res.LastInsertId()
}

// ListAlerts returns alerts across all sessions, most recent first,
// paginated by limit/offset (limit <= 0 means unbounded).
func (s *Store) ListAlerts(ctx context.Context, limit, offset int) ([]Alert, error) {
	query := `
		SELECT id, session_id, timestamp, previous_level, new_level, reason,
		       trigger_technique_id, trigger_similarity, snapshot_id
		FROM alert_history
		ORDER BY timestamp DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		a, err := scanAlertRows(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// CountAlerts returns the total number of alerts recorded for sessionID.
func (s *Store) CountAlerts(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_history WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

func scanSnapshot(row *sql.Row) (Snapshot, error) {
	return scanSnapshotScanner(row)
}

func scanSnapshotRows(rows *sql.Rows) (Snapshot, error) {
	return scanSnapshotScanner(rows)
}

func scanSnapshotScanner(r rowScanner) (Snapshot, error) {
	var (
		snap         Snapshot
		snapshotAt   string
		matchesJSON  string
		highestTech  sql.NullString
		highestSim   sql.NullFloat64
		threatLevel  string
	)
	err := r.Scan(
		&snap.ID, &snap.SessionID, &snapshotAt, &matchesJSON, &highestTech, &highestSim,
		&threatLevel, &snap.EventCountAtSnapshot, &snap.ActiveProcessCount,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, snapshotAt); err == nil {
		snap.SnapshotAt = t
	}
	snap.Matches, err = unmarshalMatches(matchesJSON)
	if err != nil {
		return Snapshot{}, err
	}
	snap.HighestMatchTechniqueID = highestTech.String
	snap.HighestMatchSimilarity = highestSim.Float64
	snap.SessionThreatLevel = SeverityLevel(threatLevel)
	return snap, nil
}

func scanAlertRows(rows *sql.Rows) (Alert, error) {
	var (
		a                  Alert
		ts                 string
		prevLevel, newLevel string
		reason             sql.NullString
		triggerTechnique   sql.NullString
		triggerSimilarity  sql.NullFloat64
		snapshotID         sql.NullInt64
	)
	err := rows.Scan(
		&a.ID, &a.SessionID, &ts, &prevLevel, &newLevel, &reason,
		&triggerTechnique, &triggerSimilarity, &snapshotID,
	)
	if err != nil {
		return Alert{}, fmt.Errorf("scan alert: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		a.Timestamp = t
	}
	a.PreviousLevel = SeverityLevel(prevLevel)
	a.NewLevel = SeverityLevel(newLevel)
	a.Reason = reason.String
	a.TriggerTechniqueID = triggerTechnique.String
	a.TriggerSimilarity = triggerSimilarity.Float64
	if snapshotID.Valid {
		id := snapshotID.Int64
		a.SnapshotID = &id
	}
	return a, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/navshield/tracer/internal/event"
)

// StartTest creates a catalog entry linked to an already-open catalog
// session. The test starts in StatusPending with finalized=false.
func (s *Store) StartTest(ctx context.Context, techniqueID, displayName, description string, sessionID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO atomic_tests (technique_id, display_name, description, session_id, status)
		VALUES (?, ?, ?, ?, ?)
	`, techniqueID, displayName, description, sessionID, string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("start test: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start test: last insert id: %w", err)
	}
	return id, nil
}

// FinishTest marks testID finalized and records its total event count, the
// count observed at the moment catalog collection stopped. Finalizing is
// idempotent: calling it again just overwrites total_events.
func (s *Store) FinishTest(ctx context.Context, testID int64, totalEvents int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE atomic_tests SET finalized = 1, total_events = ? WHERE id = ?
	`, totalEvents, testID)
	if err != nil {
		return fmt.Errorf("finish test: %w", err)
	}
	return nil
}

// UpdateTest applies the normalization pipeline's outcome to testID:
// normalized_at, status and the derived severity/reason pair. The CLI uses
// it to record a failed normalization run; a successful run's transition is
// written by SaveNormalization.
func (s *Store) UpdateTest(ctx context.Context, testID int64, status NormalizationStatus, severity, severityReason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE atomic_tests
		SET status = ?, normalized_at = ?, severity = ?, severity_reason = ?
		WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339Nano), severity, severityReason, testID)
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	return nil
}

// DeleteTest removes testID and, via ON DELETE CASCADE, its session,
// events, signature, core-event pattern and whitelist entries.
func (s *Store) DeleteTest(ctx context.Context, testID int64) error {
	test, err := s.GetTest(ctx, testID)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, test.SessionID); err != nil {
		return fmt.Errorf("delete test: cascade session: %w", err)
	}
	return nil
}

// GetTest retrieves a single catalog entry by id.
func (s *Store) GetTest(ctx context.Context, testID int64) (AtomicTest, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, technique_id, display_name, description, session_id, total_events,
		       finalized, normalized_at, severity, severity_reason, status
		FROM atomic_tests WHERE id = ?
	`, testID)
	return scanAtomicTest(row)
}

// ListTests returns every catalog entry, most recently created first.
func (s *Store) ListTests(ctx context.Context) ([]AtomicTest, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, technique_id, display_name, description, session_id, total_events,
		       finalized, normalized_at, severity, severity_reason, status
		FROM atomic_tests ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	tests := make([]AtomicTest, 0)
	for rows.Next() {
		t, err := scanAtomicTestRows(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	return tests, nil
}

// ExportEvents returns every event recorded against testID's linked
// session, in the same order as EventsOfSession. Used by the public
// export_events operation and by the count-agreement invariant (total
// finalized events equal to both count_events and export length).
func (s *Store) ExportEvents(ctx context.Context, testID int64) ([]event.Event, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("export events: %w", err)
	}
	return s.EventsOfSession(ctx, test.SessionID)
}

// GetTestSummary composes GetTest with its signature, if normalization has
// completed. Returns ok=false when no signature exists yet (pending or
// failed).
func (s *Store) GetTestSummary(ctx context.Context, testID int64) (test AtomicTest, sig Signature, ok bool, err error) {
	test, err = s.GetTest(ctx, testID)
	if err != nil {
		return AtomicTest{}, Signature{}, false, err
	}
	sig, found, err := s.GetSignatureByTest(ctx, testID)
	if err != nil {
		return AtomicTest{}, Signature{}, false, err
	}
	return test, sig, found, nil
}

func scanAtomicTest(row *sql.Row) (AtomicTest, error) {
	return scanAtomicTestScanner(row)
}

func scanAtomicTestRows(rows *sql.Rows) (AtomicTest, error) {
	return scanAtomicTestScanner(rows)
}

func scanAtomicTestScanner(r rowScanner) (AtomicTest, error) {
	var (
		t                              AtomicTest
		description                    sql.NullString
		normalizedAt                   sql.NullString
		severity, severityReason       sql.NullString
		finalized                      int
		status                         string
	)
	err := r.Scan(
		&t.ID, &t.TechniqueID, &t.DisplayName, &description, &t.SessionID, &t.TotalEvents,
		&finalized, &normalizedAt, &severity, &severityReason, &status,
	)
	if err != nil {
		return AtomicTest{}, fmt.Errorf("scan atomic test: %w", err)
	}
	t.Description = description.String
	t.Finalized = finalized != 0
	if normalizedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, normalizedAt.String); err == nil {
			t.NormalizedAt = &ts
		}
	}
	t.Severity = severity.String
	t.SeverityReason = severityReason.String
	t.Status = NormalizationStatus(status)
	return t, nil
}

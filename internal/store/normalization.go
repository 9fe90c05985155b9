package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveNormalization persists the full output of one normalization run for
// testID: the signature row, its ordered core-event pattern, its suggested
// whitelist entries, the normalization log entry, and the owning test's
// status/severity transition in atomic_tests, all inside one transaction.
// A prior signature for the same test (a re-normalization) is replaced
// wholesale, so readers never observe a signature with a stale core-event
// pattern or vice versa, and atomic_tests.status can never still read
// pending once the signature it describes is already visible to
// ListSignatures.
func (s *Store) SaveNormalization(ctx context.Context, testID int64, sig Signature) (signatureID int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save normalization: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM normalized_test_signatures WHERE test_id = ?`, testID); err != nil {
		return 0, fmt.Errorf("save normalization: clear prior signature: %w", err)
	}

	fvJSON, err := marshalFeatureVector(sig.FeatureVector)
	if err != nil {
		return 0, fmt.Errorf("save normalization: marshal feature vector: %w", err)
	}
	warningsJSON, err := marshalWarnings(sig.Warnings)
	if err != nil {
		return 0, fmt.Errorf("save normalization: marshal warnings: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO normalized_test_signatures
		(test_id, signature_hash, feature_vector, core_event_count, support_event_count,
		 noise_event_count, duration_seconds, quality_score, warnings, processed_at,
		 status, severity, severity_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		testID, sig.SignatureHash, fvJSON, sig.CoreEventCount, sig.SupportEventCount,
		sig.NoiseEventCount, sig.DurationSeconds, sig.QualityScore, warningsJSON,
		time.Now().UTC().Format(time.RFC3339Nano), string(sig.Status), sig.Severity, sig.SeverityReason,
	)
	if err != nil {
		return 0, fmt.Errorf("save normalization: insert signature: %w", err)
	}
	signatureID, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save normalization: last insert id: %w", err)
	}

	for _, entry := range sig.CorePattern {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO normalized_core_events (signature_id, position, event_kind, relative_seconds)
			VALUES (?, ?, ?, ?)
		`, signatureID, entry.Position, entry.EventKind, entry.RelativeSeconds); err != nil {
			return 0, fmt.Errorf("save normalization: insert core event: %w", err)
		}
	}

	for _, w := range sig.Whitelist {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO normalized_whitelist_entries (signature_id, entry_type, value, reason, approved, auto_generated)
			VALUES (?, ?, ?, ?, ?, ?)
		`, signatureID, w.EntryType, w.Value, w.Reason, boolToInt(w.Approved), boolToInt(w.AutoGenerated)); err != nil {
			return 0, fmt.Errorf("save normalization: insert whitelist entry: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO normalization_log (test_id, ran_at, status, message)
		VALUES (?, ?, ?, ?)
	`, testID, time.Now().UTC().Format(time.RFC3339Nano), string(sig.Status), sig.SeverityReason); err != nil {
		return 0, fmt.Errorf("save normalization: insert log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE atomic_tests
		SET status = ?, normalized_at = ?, severity = ?, severity_reason = ?
		WHERE id = ?
	`, string(sig.Status), time.Now().UTC().Format(time.RFC3339Nano), sig.Severity, sig.SeverityReason, testID); err != nil {
		return 0, fmt.Errorf("save normalization: transition test status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save normalization: commit: %w", err)
	}
	return signatureID, nil
}

// GetSignatureByTest loads the signature, core-event pattern and whitelist
// entries for testID. ok is false when no signature has been saved yet.
func (s *Store) GetSignatureByTest(ctx context.Context, testID int64) (sig Signature, ok bool, err error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, test_id, signature_hash, feature_vector, core_event_count, support_event_count,
		       noise_event_count, duration_seconds, quality_score, warnings, processed_at,
		       status, severity, severity_reason
		FROM normalized_test_signatures WHERE test_id = ?
	`, testID)

	sig, err = scanSignature(row)
	if err == sql.ErrNoRows {
		return Signature{}, false, nil
	}
	if err != nil {
		return Signature{}, false, err
	}

	sig.CorePattern, err = s.corePatternOf(ctx, sig.ID)
	if err != nil {
		return Signature{}, false, err
	}
	sig.Whitelist, err = s.whitelistOf(ctx, sig.ID)
	if err != nil {
		return Signature{}, false, err
	}
	return sig, true, nil
}

// ListSignatures returns every completed signature's core fields, for the
// correlation engine's scoring pass. Core-event patterns and whitelist
// entries are included.
func (s *Store) ListSignatures(ctx context.Context) ([]Signature, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, test_id, signature_hash, feature_vector, core_event_count, support_event_count,
		       noise_event_count, duration_seconds, quality_score, warnings, processed_at,
		       status, severity, severity_reason
		FROM normalized_test_signatures WHERE status = ?
	`, string(StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	sigs := make([]Signature, 0)
	for rows.Next() {
		sig, err := scanSignatureRows(rows)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signatures: %w", err)
	}

	for i := range sigs {
		sigs[i].CorePattern, err = s.corePatternOf(ctx, sigs[i].ID)
		if err != nil {
			return nil, err
		}
		sigs[i].Whitelist, err = s.whitelistOf(ctx, sigs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return sigs, nil
}

func (s *Store) corePatternOf(ctx context.Context, signatureID int64) ([]CoreEventEntry, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT position, event_kind, relative_seconds
		FROM normalized_core_events WHERE signature_id = ? ORDER BY position
	`, signatureID)
	if err != nil {
		return nil, fmt.Errorf("query core pattern: %w", err)
	}
	defer rows.Close()

	entries := make([]CoreEventEntry, 0)
	for rows.Next() {
		var e CoreEventEntry
		var relSeconds sql.NullFloat64
		if err := rows.Scan(&e.Position, &e.EventKind, &relSeconds); err != nil {
			return nil, fmt.Errorf("scan core event: %w", err)
		}
		if relSeconds.Valid {
			e.RelativeSeconds = &relSeconds.Float64
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate core pattern: %w", err)
	}
	return entries, nil
}

func (s *Store) whitelistOf(ctx context.Context, signatureID int64) ([]WhitelistEntry, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, signature_id, entry_type, value, reason, approved, auto_generated
		FROM normalized_whitelist_entries WHERE signature_id = ?
	`, signatureID)
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	entries := make([]WhitelistEntry, 0)
	for rows.Next() {
		var w WhitelistEntry
		var reason sql.NullString
		var approved, autoGenerated int
		if err := rows.Scan(&w.ID, &w.SignatureID, &w.EntryType, &w.Value, &reason, &approved, &autoGenerated); err != nil {
			return nil, fmt.Errorf("scan whitelist entry: %w", err)
		}
		w.Reason = reason.String
		w.Approved = approved != 0
		w.AutoGenerated = autoGenerated != 0
		entries = append(entries, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whitelist: %w", err)
	}
	return entries, nil
}

// PromoteWhitelistEntry marks an auto-generated whitelist entry approved,
// the supplemented operation behind the CLI's "whitelist promote" command.
func (s *Store) PromoteWhitelistEntry(ctx context.Context, entryID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE normalized_whitelist_entries SET approved = 1 WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("promote whitelist entry: %w", err)
	}
	return nil
}

func scanSignature(row *sql.Row) (Signature, error) {
	return scanSignatureScanner(row)
}

func scanSignatureRows(rows *sql.Rows) (Signature, error) {
	return scanSignatureScanner(rows)
}

func scanSignatureScanner(r rowScanner) (Signature, error) {
	var (
		sig                      Signature
		fvJSON                   string
		warningsJSON             sql.NullString
		processedAt              string
		status                   string
		severity, severityReason sql.NullString
	)
	err := r.Scan(
		&sig.ID, &sig.TestID, &sig.SignatureHash, &fvJSON, &sig.CoreEventCount, &sig.SupportEventCount,
		&sig.NoiseEventCount, &sig.DurationSeconds, &sig.QualityScore, &warningsJSON, &processedAt,
		&status, &severity, &severityReason,
	)
	if err != nil {
		return Signature{}, fmt.Errorf("scan signature: %w", err)
	}

	sig.FeatureVector, err = unmarshalFeatureVector(fvJSON)
	if err != nil {
		return Signature{}, err
	}
	if warningsJSON.Valid {
		sig.Warnings, err = unmarshalWarnings(warningsJSON.String)
		if err != nil {
			return Signature{}, err
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, processedAt); err == nil {
		sig.ProcessedAt = t
	}
	sig.Status = NormalizationStatus(status)
	sig.Severity = severity.String
	sig.SeverityReason = severityReason.String
	return sig, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

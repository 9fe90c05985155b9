// Package store implements the session-scoped event ingestion and
// persistence engine (C2): a single-writer, multi-reader SQLite store for
// sessions, events, catalog tests, normalized signatures, snapshots and
// alerts.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion tracks additive migrations applied after the base
// schema. 0 means only the baseline schema.sql has been applied.
const currentSchemaVersion = 0

// Store owns the single writable handle to the event database plus a
// read-only handle pool for concurrent readers (correlation engine,
// reporting, UI). All insert paths route through the writer; nothing else
// opens the database in read-write mode.
type Store struct {
	db      *sql.DB
	readDB  *sql.DB
	nextSeq atomic.Int64
}

// Open creates or opens a SQLite database at path, applies the required
// pragmas and schema, and primes the sequence-number counter from
// existing data. Safe to call multiple times against the same path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite permits exactly one writer; route every mutation through a
	// single connection to avoid SQLITE_BUSY storms under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", path+"?_query_only=true")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open read handle: %w", err)
	}
	if err := readDB.Ping(); err != nil {
		db.Close()
		readDB.Close()
		return nil, fmt.Errorf("connect read handle: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	s := &Store{db: db, readDB: readDB}

	maxSeq, err := s.maxSequenceNumber()
	if err != nil {
		db.Close()
		readDB.Close()
		return nil, fmt.Errorf("prime sequence counter: %w", err)
	}
	s.nextSeq.Store(maxSeq)

	return s, nil
}

// Close closes both the writer and reader handles.
func (s *Store) Close() error {
	var firstErr error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DB returns the underlying writable handle. Prefer the Store methods;
// use this only for operations not yet wrapped (e.g. ad hoc diagnostics).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) maxSequenceNumber() (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sequence_number) FROM events`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (s *Store) nextSequenceNumber() int64 {
	return s.nextSeq.Add(1)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -200000", // ~200MB page cache
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

// applySchema creates the baseline tables (idempotent) and then runs any
// additive migrations gated on PRAGMA user_version. Migrations only ever
// add columns/indices/tables; nothing here is destructive.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("exec base schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	// No additive migrations beyond the baseline schema yet. Future
	// columns/indices are added here, each gated on `version < N`, and
	// user_version is bumped to currentSchemaVersion below.

	if version != currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

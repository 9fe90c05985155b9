// Package tracererr defines the typed error taxonomy shared across the
// ingestion, storage, and correlation packages, so callers can distinguish
// recoverable conditions from fatal ones with errors.As rather than string
// matching.
package tracererr

import (
	"errors"
	"fmt"
)

// Code categorizes a tracer error.
type Code string

const (
	// CodeStorageBusy means the store's single writer was contended and
	// the one permitted retry also failed. Recoverable: callers may drop
	// the event or re-enqueue at their discretion.
	CodeStorageBusy Code = "STORAGE_BUSY"

	// CodeForeignKeyViolation and CodeSchemaViolation are programmer
	// errors: fatal for the owning task.
	CodeForeignKeyViolation Code = "FOREIGN_KEY_VIOLATION"
	CodeSchemaViolation     Code = "SCHEMA_VIOLATION"

	// CodeSensorParse marks a malformed raw sensor record. Recoverable:
	// the record is dropped and ingestion continues.
	CodeSensorParse Code = "SENSOR_PARSE"

	// CodeNormalizationFailed marks a catalog normalization pipeline
	// failure. Recoverable: the test is marked status=failed.
	CodeNormalizationFailed Code = "NORMALIZATION_FAILED"

	// CodeProcessEnumDenied marks a process-enumeration access-denied
	// condition. Recoverable: falls back to conservative defaults.
	CodeProcessEnumDenied Code = "PROCESS_ENUM_DENIED"
)

// Error is a structured error carrying a Code plus enough context to log
// and to drive errors.As-based branching.
type Error struct {
	Code      Code
	Message   string
	SessionID int64
	TestID    int64
	Cause     error
}

func (e *Error) Error() string {
	if e.SessionID != 0 {
		return fmt.Sprintf("%s: %s (session=%d)", e.Code, e.Message, e.SessionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error that wraps cause, preserving it for errors.As
// and errors.Is chains.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithSession returns a copy of e annotated with a session id.
func (e *Error) WithSession(sessionID int64) *Error {
	cp := *e
	cp.SessionID = sessionID
	return &cp
}

// WithTest returns a copy of e annotated with a test id.
func (e *Error) WithTest(testID int64) *Error {
	cp := *e
	cp.TestID = testID
	return &cp
}

// IsStorageBusy reports whether err (or anything it wraps) is a
// CodeStorageBusy error.
func IsStorageBusy(err error) bool {
	return hasCode(err, CodeStorageBusy)
}

// IsFatal reports whether err represents a programmer-error condition that
// should propagate to the host and terminate the owning task: foreign-key
// or schema violations.
func IsFatal(err error) bool {
	return hasCode(err, CodeForeignKeyViolation) || hasCode(err, CodeSchemaViolation)
}

func hasCode(err error, code Code) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

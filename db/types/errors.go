package types

import (
	"errors"
	"fmt"

	"github.com/glebarez/go-sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DuplicateError is returned when a record with the same key already exists.
type DuplicateError struct {
	Object string
	Key    string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s already exists", e.Object, e.Key)
}

// IntegrityError is a violation of an invariant of the stored data.
type IntegrityError struct {
	Msg string
	Err error
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: %s", e.Msg)
}

// Unwrap returns the underlying error.
func (e IntegrityError) Unwrap() error {
	return e.Err
}

// LoadError is returned when a query reading data fails.
type LoadError struct {
	Object string
	Err    error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("failed loading %s: %s", e.Object, e.Err)
}

// Unwrap returns the underlying error.
func (e LoadError) Unwrap() error {
	return e.Err
}

// LockedError is returned when the database is locked by another connection
// for longer than the busy timeout.
type LockedError struct {
	Err error
}

func (e LockedError) Error() string {
	return fmt.Sprintf("database is locked: %s", e.Err)
}

// Unwrap returns the underlying error.
func (e LockedError) Unwrap() error {
	return e.Err
}

// ReferenceError is a foreign key constraint violation.
type ReferenceError struct {
	Msg string
	Err error
}

func (e ReferenceError) Error() string {
	return e.Msg
}

// Unwrap returns the underlying error.
func (e ReferenceError) Unwrap() error {
	return e.Err
}

// ScanError is returned when query results can't be converted to Go values.
type ScanError struct {
	Object string
	Err    error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("failed scanning %s data: %s", e.Object, e.Err)
}

// Unwrap returns the underlying error.
func (e ScanError) Unwrap() error {
	return e.Err
}

// Err converts an expected error returned by SQLite for the object identified
// by key into one of the error types above. Other errors are returned as is.
func Err(object, key string, err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	code := sqlErr.Code()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return DuplicateError{Object: object, Key: key}
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ReferenceError{
			Msg: fmt.Sprintf("%s with %s references a missing record", object, key),
			Err: err,
		}
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_CHECK:
		return IntegrityError{Msg: fmt.Sprintf("invalid %s with %s", object, key), Err: err}
	}

	return Locked(err)
}

// Locked returns a LockedError wrapping err if SQLite failed because the
// database is locked. Other errors are returned as is.
func Locked(err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	// Extended result codes keep the primary code in the lower 8 bits.
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return LockedError{Err: err}
	}

	return err
}

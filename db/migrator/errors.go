package migrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrIrreversible is returned by Down functions of migrations that can't
	// be reverted. The Migrator reports it as an IrreversibleError.
	ErrIrreversible = errors.New("migration can't be reverted")

	// ErrMigrationInProgress is returned when a Migrator is invoked while
	// another of its operations is still running.
	ErrMigrationInProgress = errors.New("another migration is in progress")
)

// UnresolvedDependencyError is returned when a migration depends on a
// migration that isn't in the registry.
type UnresolvedDependencyError struct {
	Migration uuid.UUID
	Missing   uuid.UUID
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("migration %s depends on unknown migration %s", e.Migration, e.Missing)
}

// CyclicDependencyError is returned when the migration graph contains a cycle.
// Migration is part of the cycle, and Cycle lists all its members, each one
// followed by one of its dependencies.
type CyclicDependencyError struct {
	Migration uuid.UUID
	Cycle     []uuid.UUID
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return fmt.Sprintf("migration %s is part of a dependency cycle", e.Migration)
	}
	ids := make([]string, 0, len(e.Cycle)+1)
	for _, id := range e.Cycle {
		ids = append(ids, id.String())
	}
	ids = append(ids, e.Cycle[0].String())
	return fmt.Sprintf("migration %s is part of a dependency cycle: %s",
		e.Migration, strings.Join(ids, " -> "))
}

// MigrationFailedError is returned when a migration's up or down function
// fails. The migration's transaction is rolled back.
type MigrationFailedError struct {
	Migration uuid.UUID
	Direction Direction
	Err       error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("failed running migration %s %s: %s", e.Migration, e.Direction, e.Err)
}

// Unwrap returns the underlying error.
func (e *MigrationFailedError) Unwrap() error {
	return e.Err
}

// IrreversibleError is returned when reverting a migration that can't be
// reverted.
type IrreversibleError struct {
	Migration uuid.UUID
}

func (e *IrreversibleError) Error() string {
	return fmt.Sprintf("migration %s can't be reverted", e.Migration)
}

// Is makes errors.Is(err, ErrIrreversible) match.
func (e *IrreversibleError) Is(target error) bool {
	return target == ErrIrreversible
}

// DuplicateMigrationError is returned when a migration ID is registered more
// than once.
type DuplicateMigrationError struct {
	Migration uuid.UUID
}

func (e *DuplicateMigrationError) Error() string {
	return fmt.Sprintf("migration %s is already registered", e.Migration)
}

// InvalidMigrationError is returned for migrations that violate one of the
// Migration invariants.
type InvalidMigrationError struct {
	Migration uuid.UUID
	Msg       string
}

func (e *InvalidMigrationError) Error() string {
	return fmt.Sprintf("invalid migration %s: %s", e.Migration, e.Msg)
}

// UnknownMigrationError is returned when a requested migration isn't in the
// registry.
type UnknownMigrationError struct {
	Migration uuid.UUID
}

func (e *UnknownMigrationError) Error() string {
	return fmt.Sprintf("unknown migration %s", e.Migration)
}

// ErrorKind maps migration errors to a stable label, suitable for logging and
// exit code mapping.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var (
		unresolvedErr *UnresolvedDependencyError
		cyclicErr     *CyclicDependencyError
		irrErr        *IrreversibleError
		failedErr     *MigrationFailedError
		dupErr        *DuplicateMigrationError
		invalidErr    *InvalidMigrationError
		unknownErr    *UnknownMigrationError
	)
	switch {
	case errors.As(err, &unresolvedErr):
		return "unresolved_dependency"
	case errors.As(err, &cyclicErr):
		return "cyclic_dependency"
	case errors.As(err, &irrErr), errors.Is(err, ErrIrreversible):
		return "irreversible"
	case errors.As(err, &failedErr):
		return "migration_failed"
	case errors.As(err, &dupErr):
		return "duplicate_migration"
	case errors.As(err, &invalidErr):
		return "invalid_migration"
	case errors.As(err, &unknownErr):
		return "unknown_migration"
	case errors.Is(err, ErrMigrationInProgress):
		return "in_progress"
	}

	return "unexpected"
}

package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// TxFunc changes the database schema within the transaction opened by the
// Migrator for a single migration.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// Direction is the direction in which a migration is run.
type Direction int

// Migration directions.
const (
	MigrationUp Direction = iota
	MigrationDown
)

func (d Direction) String() string {
	switch d {
	case MigrationUp:
		return "up"
	case MigrationDown:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Migration is a single, immutable schema change. Backward-incompatible edits
// are modeled as new migrations that depend on older ones, never as changes to
// an existing migration.
type Migration struct {
	ID           uuid.UUID
	Dependencies []uuid.UUID
	Description  string
	Up           TxFunc
	Down         TxFunc
	// Irreversible marks a migration whose effects can't be undone, e.g.
	// because it discards data. Reverting it fails with IrreversibleError.
	Irreversible bool
	// Checksum is an optional fingerprint of the migration source. It's
	// recorded when the migration is applied.
	Checksum string
}

// Apply runs the forward migration.
func (m *Migration) Apply(ctx context.Context, tx *sql.Tx) error {
	return m.Up(ctx, tx)
}

// Revert runs the backward migration. It returns an IrreversibleError if the
// migration can't be reverted.
func (m *Migration) Revert(ctx context.Context, tx *sql.Tx) error {
	if m.Irreversible || m.Down == nil {
		return &IrreversibleError{Migration: m.ID}
	}

	err := m.Down(ctx, tx)
	if errors.Is(err, ErrIrreversible) {
		var irrErr *IrreversibleError
		if errors.As(err, &irrErr) {
			return irrErr
		}
		return &IrreversibleError{Migration: m.ID}
	}

	return err
}

// Reversible reports whether the migration can be reverted. A migration
// whose Down is the Irreversible function is not reversible.
func (m *Migration) Reversible() bool {
	return !m.Irreversible && m.Down != nil && !isIrreversibleFunc(m.Down)
}

// DependsOn reports whether id is a direct dependency of the migration.
func (m *Migration) DependsOn(id uuid.UUID) bool {
	return slices.Contains(m.Dependencies, id)
}

func (m *Migration) String() string {
	if m.Description == "" {
		return m.ID.String()
	}
	return fmt.Sprintf("%s (%s)", m.ID, m.Description)
}

// Validate checks the migration invariants that don't depend on other
// migrations.
func (m *Migration) Validate() error {
	var problems []string
	if m.ID == uuid.Nil {
		problems = append(problems, "ID is required")
	}
	if m.Up == nil {
		problems = append(problems, "up migration is required")
	}
	if !m.Irreversible && m.Down == nil {
		problems = append(problems, "down migration is required unless the migration is irreversible")
	}
	if m.ID != uuid.Nil && m.DependsOn(m.ID) {
		problems = append(problems, "migration can't depend on itself")
	}
	if slices.Contains(m.Dependencies, uuid.Nil) {
		problems = append(problems, "dependency IDs can't be nil")
	}

	if len(problems) > 0 {
		return &InvalidMigrationError{Migration: m.ID, Msg: strings.Join(problems, "; ")}
	}

	return nil
}

// Irreversible is a Down function for migrations that discard information
// they can't reconstruct. It always fails with ErrIrreversible. Setting it as
// Down is equivalent to setting the Irreversible field.
func Irreversible(context.Context, *sql.Tx) error {
	return ErrIrreversible
}

var irreversiblePtr = reflect.ValueOf(Irreversible).Pointer()

func isIrreversibleFunc(fn TxFunc) bool {
	return fn != nil && reflect.ValueOf(fn).Pointer() == irreversiblePtr
}

// Exec returns a TxFunc that executes the given SQL script.
func Exec(script string) TxFunc {
	return func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return err //nolint:wrapcheck // Wrapped by the Migrator.
		}
		return nil
	}
}

// IDSet is a set of migration IDs.
type IDSet map[uuid.UUID]struct{}

// NewIDSet returns a set containing the given IDs.
func NewIDSet(ids ...uuid.UUID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Add adds id to the set.
func (s IDSet) Add(id uuid.UUID) {
	s[id] = struct{}{}
}

// Sorted returns the IDs in the set in byte order.
func (s IDSet) Sorted() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"go.hackfix.me/graft/db/queries"
	"go.hackfix.me/graft/db/types"
)

// Migrator applies and reverts the migrations of a registry on a database.
//
// Migrations run one at a time on a single connection, each in its own
// transaction which also updates the migration history table. A failed
// migration is rolled back and stops the run; migrations committed before it
// stay applied, and a later run resumes from there.
//
// A Migrator must not be used concurrently with other writers of the same
// database schema. Concurrent calls on the same Migrator fail with
// ErrMigrationInProgress.
type Migrator struct {
	db       *sql.DB
	registry *Registry
	tracker  *tracker
	logger   *slog.Logger
	clock    clock.Clock
	running  sync.Mutex
}

// New returns a new Migrator for the migrations in reg.
func New(db *sql.DB, reg *Registry, opts ...Option) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if reg == nil {
		return nil, errors.New("migration registry is required")
	}

	m := &Migrator{db: db, registry: reg}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Registry returns the migration registry used by the Migrator.
func (m *Migrator) Registry() *Registry {
	return m.registry
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.MigrateTo(ctx, Latest())
}

// MigrateTo brings the database to the target state, reverting applied
// migrations outside of it and applying the missing ones.
func (m *Migrator) MigrateTo(ctx context.Context, target Target) error {
	return m.execute(ctx, func(applied IDSet) (Plan, error) {
		return planTarget(m.registry, applied, target)
	})
}

// Revert reverts the given migrations, and every applied migration that
// depends on them. Migrations that aren't applied are ignored.
func (m *Migrator) Revert(ctx context.Context, ids ...uuid.UUID) error {
	return m.execute(ctx, func(applied IDSet) (Plan, error) {
		return planRevert(m.registry, applied, ids)
	})
}

// Plan returns the steps MigrateTo would run for the target, without
// changing the database.
func (m *Migrator) Plan(ctx context.Context, target Target) (Plan, error) {
	applied, err := m.tracker.appliedSet(ctx, m.db)
	if err != nil {
		return nil, err
	}

	return planTarget(m.registry, applied, target)
}

// RevertPlan returns the steps Revert would run for the given migrations,
// without changing the database.
func (m *Migrator) RevertPlan(ctx context.Context, ids ...uuid.UUID) (Plan, error) {
	applied, err := m.tracker.appliedSet(ctx, m.db)
	if err != nil {
		return nil, err
	}

	return planRevert(m.registry, applied, ids)
}

// Applied returns the migration history of the database, in the order
// migrations were applied.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	return m.tracker.list(ctx, m.db)
}

func (m *Migrator) execute(ctx context.Context, planFn func(IDSet) (Plan, error)) error {
	if !m.running.TryLock() {
		return ErrMigrationInProgress
	}
	defer m.running.Unlock()

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed acquiring database connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("failed releasing database connection", "error", cerr)
		}
	}()

	applied, err := m.tracker.appliedSet(ctx, conn)
	if err != nil {
		return err
	}
	for _, id := range applied.Sorted() {
		if !m.registry.Has(id) {
			m.logger.Warn("database contains a migration unknown to the registry", "migration_id", id)
		}
	}

	plan, err := planFn(applied)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		m.logger.Debug("database is up to date", "applied", len(applied))
		return nil
	}

	if err = m.tracker.bootstrap(ctx, conn); err != nil {
		return err
	}

	m.logger.Info("running migration plan",
		"up", plan.Count(MigrationUp), "down", plan.Count(MigrationDown))

	for i, step := range plan {
		if err = ctx.Err(); err != nil {
			return fmt.Errorf("migration plan interrupted before migration %s: %w",
				step.Migration.ID, err)
		}
		logger := m.logger.With(
			"migration_id", step.Migration.ID,
			"direction", step.Direction.String(),
			"step", fmt.Sprintf("%d/%d", i+1, len(plan)),
		)
		if err = m.runStep(ctx, conn, step, logger); err != nil {
			return err
		}
	}

	return nil
}

// runStep runs a single migration in its own transaction on conn. Foreign key
// enforcement is disabled for the duration of the step, since table rebuilds
// temporarily break references. Violations are checked before committing.
func (m *Migrator) runStep(
	ctx context.Context, conn *sql.Conn, step Step, logger *slog.Logger,
) (rerr error) {
	mig := step.Migration

	// Once the transaction is open, it runs to commit or rollback.
	txCtx := context.WithoutCancel(ctx)

	fkEnabled, err := foreignKeysEnabled(txCtx, conn)
	if err != nil {
		return err
	}
	// PRAGMA foreign_keys is a no-op inside a transaction.
	if _, err = conn.ExecContext(txCtx, `PRAGMA foreign_keys = OFF`); err != nil {
		return fmt.Errorf("failed disabling foreign key enforcement: %w", types.Locked(err))
	}
	defer func() {
		if err := restorePragmas(txCtx, conn, fkEnabled); err != nil {
			rerr = errors.Join(rerr, err)
		}
	}()

	tx, err := conn.BeginTx(txCtx, nil)
	if err != nil {
		return &MigrationFailedError{Migration: mig.ID, Direction: step.Direction,
			Err: fmt.Errorf("failed starting transaction: %w", types.Locked(err))}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logger.Error("failed rolling back migration transaction", "error", err)
		}
	}()

	logger.Debug("running migration", "description", mig.Description)
	start := m.clock.Now()

	switch step.Direction {
	case MigrationUp:
		err = mig.Apply(txCtx, tx)
	case MigrationDown:
		err = mig.Revert(txCtx, tx)
	default:
		err = fmt.Errorf("unsupported migration direction %s", step.Direction)
	}
	if err != nil {
		var irrErr *IrreversibleError
		if errors.As(err, &irrErr) {
			return irrErr
		}
		return &MigrationFailedError{Migration: mig.ID, Direction: step.Direction, Err: types.Locked(err)}
	}

	dur := m.clock.Since(start)
	if step.Direction == MigrationUp {
		err = m.tracker.record(txCtx, tx, mig, m.clock.Now(), dur)
	} else {
		err = m.tracker.remove(txCtx, tx, mig)
	}
	if err != nil {
		return &MigrationFailedError{Migration: mig.ID, Direction: step.Direction, Err: err}
	}

	violations, err := queries.ForeignKeyViolations(txCtx, tx)
	if err != nil {
		return &MigrationFailedError{Migration: mig.ID, Direction: step.Direction, Err: err}
	}
	if len(violations) > 0 {
		return &MigrationFailedError{
			Migration: mig.ID, Direction: step.Direction,
			Err: types.ReferenceError{
				Msg: fmt.Sprintf("migration left %d foreign key violations, first: %s",
					len(violations), violations[0]),
			},
		}
	}

	if err = tx.Commit(); err != nil {
		return &MigrationFailedError{Migration: mig.ID, Direction: step.Direction,
			Err: fmt.Errorf("failed committing transaction: %w", types.Locked(err))}
	}
	committed = true

	if step.Direction == MigrationUp {
		logger.Info("applied migration", "duration", dur)
	} else {
		logger.Info("reverted migration", "duration", dur)
	}

	return nil
}

func foreignKeysEnabled(ctx context.Context, q types.Querier) (bool, error) {
	var enabled bool
	if err := q.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&enabled); err != nil {
		return false, fmt.Errorf("failed reading foreign key enforcement state: %w", err)
	}
	return enabled, nil
}

func restorePragmas(ctx context.Context, conn *sql.Conn, fkEnabled bool) error {
	if _, err := conn.ExecContext(ctx, `PRAGMA legacy_alter_table = OFF`); err != nil {
		return fmt.Errorf("failed resetting legacy_alter_table: %w", err)
	}
	if fkEnabled {
		if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return fmt.Errorf("failed enabling foreign key enforcement: %w", err)
		}
	}
	return nil
}

package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"go.hackfix.me/graft/db/types"
)

// DefaultTableName is the name of the table that records applied migrations.
const DefaultTableName = "_migrations"

var tableNameRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AppliedMigration is a row of the migration history table.
type AppliedMigration struct {
	ID          uuid.UUID
	Seq         int64
	Description string
	Checksum    string
	AppliedAt   time.Time
	Duration    time.Duration
}

// tracker persists the set of applied migrations in a table of the migrated
// database itself, so that it can be updated in the same transaction as the
// schema.
type tracker struct {
	table string
}

func newTracker(table string) (*tracker, error) {
	if !tableNameRx.MatchString(table) {
		return nil, fmt.Errorf("invalid migration table name '%s'", table)
	}
	return &tracker{table: table}, nil
}

func (t *tracker) bootstrap(ctx context.Context, q types.Querier) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
		id          TEXT NOT NULL PRIMARY KEY,
		seq         INTEGER NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		checksum    TEXT NOT NULL DEFAULT '',
		applied_at  TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`, t.table)
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed creating migration table %s: %w",
			t.table, types.Err("migration table", t.table, err))
	}

	return nil
}

func (t *tracker) exists(ctx context.Context, q types.Querier) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, t.table).
		Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed looking up migration table %s: %w", t.table, err)
	}

	return n > 0, nil
}

// list returns the applied migrations in the order they were applied. A
// database without the migration table has no applied migrations.
func (t *tracker) list(ctx context.Context, q types.Querier) (applied []AppliedMigration, rerr error) {
	ok, err := t.exists(ctx, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []AppliedMigration{}, nil
	}

	query := fmt.Sprintf(`SELECT id, seq, description, checksum, applied_at, duration_ms
		FROM "%s" ORDER BY seq ASC`, t.table)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, types.LoadError{Object: "applied migrations", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing applied migration rows: %w", err)
		}
	}()

	applied = make([]AppliedMigration, 0)
	for rows.Next() {
		var (
			am         AppliedMigration
			id         string
			appliedAt  string
			durationMs int64
		)
		err = rows.Scan(&id, &am.Seq, &am.Description, &am.Checksum, &appliedAt, &durationMs)
		if err != nil {
			return nil, types.ScanError{Object: "applied migration", Err: err}
		}
		if am.ID, err = uuid.Parse(id); err != nil {
			return nil, types.ScanError{Object: "applied migration", Err: fmt.Errorf("invalid ID '%s': %w", id, err)}
		}
		if am.AppliedAt, err = time.Parse(time.RFC3339Nano, appliedAt); err != nil {
			return nil, types.ScanError{Object: "applied migration", Err: fmt.Errorf("invalid timestamp '%s': %w", appliedAt, err)}
		}
		am.Duration = time.Duration(durationMs) * time.Millisecond
		applied = append(applied, am)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over applied migration rows: %w", err)
	}

	return applied, nil
}

func (t *tracker) appliedSet(ctx context.Context, q types.Querier) (IDSet, error) {
	applied, err := t.list(ctx, q)
	if err != nil {
		return nil, err
	}

	set := make(IDSet, len(applied))
	for _, am := range applied {
		set.Add(am.ID)
	}

	return set, nil
}

// record marks m as applied. It must run in the migration's transaction.
func (t *tracker) record(
	ctx context.Context, tx *sql.Tx, m *Migration, appliedAt time.Time, dur time.Duration,
) error {
	stmt := fmt.Sprintf(`INSERT INTO "%[1]s"
		(id, seq, description, checksum, applied_at, duration_ms)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM "%[1]s"), ?, ?, ?, ?)`, t.table)
	_, err := tx.ExecContext(ctx, stmt,
		m.ID.String(), m.Description, m.Checksum,
		appliedAt.UTC().Format(time.RFC3339Nano), dur.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed recording migration %s: %w",
			m.ID, types.Err("applied migration", fmt.Sprintf("ID %s", m.ID), err))
	}

	return nil
}

// remove marks m as not applied. It must run in the migration's transaction.
func (t *tracker) remove(ctx context.Context, tx *sql.Tx, m *Migration) error {
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM "%s" WHERE id = ?`, t.table), m.ID.String())
	if err != nil {
		return fmt.Errorf("failed removing migration %s: %w", m.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n != 1 {
		return types.IntegrityError{Msg: fmt.Sprintf("removed %d records of migration %s", n, m.ID)}
	}

	return nil
}

package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TableRebuild describes the new shape of a table rebuilt with RebuildTable.
type TableRebuild struct {
	// Table is the name of the existing table.
	Table string
	// Definition is the column and constraint list of the new table, i.e.
	// what goes between the parentheses of CREATE TABLE.
	Definition string
	// Columns maps each column of the new table to the expression, evaluated
	// against the old table, that populates it. Columns missing from the map
	// get their default value.
	Columns []ColumnMapping
	// Indexes are additional CREATE INDEX statements run after the rebuild.
	Indexes []string
	// DropIndexes names existing indexes that shouldn't be recreated, e.g.
	// because they reference a removed column.
	DropIndexes []string
}

// ColumnMapping populates a column of a rebuilt table.
type ColumnMapping struct {
	Name string
	Expr string
}

// Col maps a column to the column of the same name in the old table.
func Col(name string) ColumnMapping {
	return ColumnMapping{Name: name, Expr: quoteIdent(name)}
}

// RebuildTable changes the shape of a table in ways ALTER TABLE doesn't
// support, such as changing a column type or constraint. It creates a new
// table, copies all rows, replaces the old table with it and recreates its
// indexes.
//
// It must run in a migration transaction. Triggers and views referencing the
// table aren't recreated.
func RebuildTable(ctx context.Context, tx *sql.Tx, tr TableRebuild) error {
	if !tableNameRx.MatchString(tr.Table) {
		return fmt.Errorf("invalid table name '%s'", tr.Table)
	}
	if strings.TrimSpace(tr.Definition) == "" {
		return fmt.Errorf("table definition for %s is required", tr.Table)
	}

	indexes, err := tableIndexes(ctx, tx, tr.Table, tr.DropIndexes)
	if err != nil {
		return err
	}

	var srcCount int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(tr.Table))).Scan(&srcCount)
	if err != nil {
		return fmt.Errorf("failed counting rows of %s: %w", tr.Table, err)
	}

	newTable := tr.Table + "_new"
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(newTable), tr.Definition),
	}
	if len(tr.Columns) > 0 {
		names := make([]string, len(tr.Columns))
		exprs := make([]string, len(tr.Columns))
		for i, c := range tr.Columns {
			names[i] = quoteIdent(c.Name)
			exprs[i] = c.Expr
		}
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s`,
			quoteIdent(newTable), strings.Join(names, ", "),
			strings.Join(exprs, ", "), quoteIdent(tr.Table)))
	}
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed rebuilding table %s: %w", tr.Table, err)
		}
	}

	var dstCount int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(newTable))).Scan(&dstCount)
	if err != nil {
		return fmt.Errorf("failed counting rows of %s: %w", newTable, err)
	}
	if srcCount != dstCount {
		return fmt.Errorf("rebuilt table %s has %d rows, expected %d", tr.Table, dstCount, srcCount)
	}

	// With legacy_alter_table on, the rename doesn't validate views and
	// triggers that reference the dropped table.
	stmts = []string{
		`PRAGMA legacy_alter_table = ON`,
		fmt.Sprintf(`DROP TABLE %s`, quoteIdent(tr.Table)),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quoteIdent(newTable), quoteIdent(tr.Table)),
		`PRAGMA legacy_alter_table = OFF`,
	}
	stmts = append(stmts, indexes...)
	stmts = append(stmts, tr.Indexes...)
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed replacing table %s: %w", tr.Table, err)
		}
	}

	return nil
}

// tableIndexes returns the CREATE statements of the explicitly created
// indexes of a table.
func tableIndexes(ctx context.Context, tx *sql.Tx, table string, skip []string) (stmts []string, rerr error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT name, sql FROM sqlite_master
		WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL
		ORDER BY name`, table)
	if err != nil {
		return nil, fmt.Errorf("failed reading indexes of %s: %w", table, err)
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing index rows: %w", err)
		}
	}()

	for rows.Next() {
		var name, stmt string
		if err = rows.Scan(&name, &stmt); err != nil {
			return nil, fmt.Errorf("failed scanning index of %s: %w", table, err)
		}
		skipped := false
		for _, s := range skip {
			if strings.EqualFold(s, name) {
				skipped = true
				break
			}
		}
		if !skipped {
			stmts = append(stmts, stmt)
		}
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over index rows: %w", err)
	}

	return stmts, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

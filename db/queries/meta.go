package queries

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.hackfix.me/graft/db/types"
)

// SchemaObject is a table, index, view or trigger definition.
type SchemaObject struct {
	Type      string
	Name      string
	TableName string
	SQL       string
}

// Schema returns every user schema object in the database, sorted by type and
// name. SQLite internal objects and objects whose name starts with an
// underscore are excluded.
func Schema(ctx context.Context, d types.Querier) (objs []SchemaObject, rerr error) {
	rows, err := d.QueryContext(ctx,
		`SELECT type, name, tbl_name, sql FROM sqlite_master
		WHERE name NOT LIKE 'sqlite\_%' ESCAPE '\' AND name NOT LIKE '\_%' ESCAPE '\'
		ORDER BY type, name`)
	if err != nil {
		return nil, types.LoadError{Object: "schema", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing schema rows: %w", err)
		}
	}()

	objs = make([]SchemaObject, 0)
	for rows.Next() {
		var (
			obj SchemaObject
			// Auto-indexes have no SQL.
			stmt sql.Null[string]
		)
		if err = rows.Scan(&obj.Type, &obj.Name, &obj.TableName, &stmt); err != nil {
			return nil, types.ScanError{Object: "schema object", Err: err}
		}
		obj.SQL = stmt.V
		objs = append(objs, obj)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over schema rows: %w", err)
	}

	return objs, nil
}

// Tables returns the names of all tables in the database that contain user
// data, sorted by name.
func Tables(ctx context.Context, d types.Querier) ([]string, error) {
	objs, err := Schema(ctx, d)
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(objs))
	for _, obj := range objs {
		if obj.Type == "table" {
			tables = append(tables, obj.Name)
		}
	}

	return tables, nil
}

// ForeignKeyViolation is a row reported by PRAGMA foreign_key_check.
type ForeignKeyViolation struct {
	Table       string
	RowID       sql.Null[int64]
	Parent      string
	ConstraintN int
}

func (v ForeignKeyViolation) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "table %s", v.Table)
	if v.RowID.Valid {
		fmt.Fprintf(&sb, " row %d", v.RowID.V)
	}
	fmt.Fprintf(&sb, " references missing row in %s", v.Parent)
	return sb.String()
}

// ForeignKeyViolations returns all foreign key violations in the database.
func ForeignKeyViolations(ctx context.Context, d types.Querier) (viols []ForeignKeyViolation, rerr error) {
	rows, err := d.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, fmt.Errorf("failed checking foreign keys: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing foreign key check rows: %w", err)
		}
	}()

	for rows.Next() {
		var v ForeignKeyViolation
		if err = rows.Scan(&v.Table, &v.RowID, &v.Parent, &v.ConstraintN); err != nil {
			return nil, types.ScanError{Object: "foreign key violation", Err: err}
		}
		viols = append(viols, v)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over foreign key check rows: %w", err)
	}

	return viols, nil
}

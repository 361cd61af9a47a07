package migrator_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/graft/db"
	"go.hackfix.me/graft/db/migrator"
	"go.hackfix.me/graft/db/queries"
)

var (
	idM1 = uuid.MustParse("0b0c7a3e-2f1d-4c55-9a64-3c1d7f0e8a01")
	idM2 = uuid.MustParse("5e9d1c44-8b7a-4f2e-b3d1-6a0f2c9e7b02")
	idM3 = uuid.MustParse("a17f3b20-4c9e-4d8a-8e5b-1f2d3c4b5a03")
	idM4 = uuid.MustParse("c3e8f9d1-7a6b-4c5d-9e0f-2a1b3c4d5e04")
	idX  = uuid.MustParse("ffffffff-0000-4000-8000-000000000099")

	timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func timeNowFn() time.Time {
	return timeNow
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	d, err := db.Open(context.Background(),
		filepath.Join(t.TempDir(), "graft.db"), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d.DB
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func tableName(id uuid.UUID) string {
	return fmt.Sprintf("t_%s", id.String()[:8])
}

// tableMigration returns a migration that creates a table named after its ID.
func tableMigration(id uuid.UUID, deps ...uuid.UUID) *migrator.Migration {
	return &migrator.Migration{
		ID:           id,
		Dependencies: deps,
		Description:  "create " + tableName(id),
		Up:           migrator.Exec(fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY)`, tableName(id))),
		Down:         migrator.Exec(fmt.Sprintf(`DROP TABLE %s`, tableName(id))),
	}
}

// diamond returns M1 <- {M2, M3} <- M4.
func diamond() []*migrator.Migration {
	return []*migrator.Migration{
		tableMigration(idM1),
		tableMigration(idM2, idM1),
		tableMigration(idM3, idM1),
		tableMigration(idM4, idM2, idM3),
	}
}

func migrationIDs(migs []*migrator.Migration) []uuid.UUID {
	ids := make([]uuid.UUID, len(migs))
	for i, m := range migs {
		ids[i] = m.ID
	}
	return ids
}

func appliedIDs(t *testing.T, m *migrator.Migrator) []uuid.UUID {
	t.Helper()

	applied, err := m.Applied(context.Background())
	require.NoError(t, err)
	ids := make([]uuid.UUID, len(applied))
	for i, am := range applied {
		ids[i] = am.ID
	}

	return ids
}

func userTables(t *testing.T, d *sql.DB) []string {
	t.Helper()

	tables, err := queries.Tables(context.Background(), d)
	require.NoError(t, err)

	return tables
}

package migrator_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/graft/db/migrator"
	"go.hackfix.me/graft/db/queries"
)

func accountsMigration() *migrator.Migration {
	return &migrator.Migration{
		ID:          idM1,
		Description: "create accounts",
		Up: migrator.Exec(`
			CREATE TABLE accounts (
				id      INTEGER PRIMARY KEY,
				email   TEXT NOT NULL,
				balance INTEGER
			);
			CREATE INDEX idx_accounts_email ON accounts (email);
			CREATE TABLE payments (
				id         INTEGER PRIMARY KEY,
				account_id INTEGER NOT NULL REFERENCES accounts (id),
				amount     INTEGER NOT NULL
			);
			INSERT INTO accounts (id, email, balance) VALUES
				(1, 'alice@example.com', 100),
				(2, 'bob@example.com', NULL),
				(3, 'carol@example.com', 7);
			INSERT INTO payments (id, account_id, amount) VALUES (1, 1, 10), (2, 3, 5);`),
		Down: migrator.Exec(`DROP TABLE payments; DROP TABLE accounts;`),
	}
}

func rebuildAccounts(tr migrator.TableRebuild) *migrator.Migration {
	return &migrator.Migration{
		ID:           idM2,
		Dependencies: []uuid.UUID{idM1},
		Description:  "make account balance required",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return migrator.RebuildTable(ctx, tx, tr)
		},
		Irreversible: true,
	}
}

func TestRebuildTable(t *testing.T) {
	t.Parallel()

	t.Run("ok/change_column_constraint", func(t *testing.T) {
		t.Parallel()

		d := newTestDB(t)
		ctx := context.Background()
		m := newTestMigrator(t, d, []*migrator.Migration{
			accountsMigration(),
			rebuildAccounts(migrator.TableRebuild{
				Table: "accounts",
				Definition: `id      INTEGER PRIMARY KEY,
					email   TEXT NOT NULL UNIQUE,
					balance INTEGER NOT NULL DEFAULT 0`,
				Columns: []migrator.ColumnMapping{
					migrator.Col("id"),
					migrator.Col("email"),
					{Name: "balance", Expr: "COALESCE(balance, 0)"},
				},
				Indexes: []string{`CREATE INDEX idx_accounts_balance ON accounts (balance)`},
			}),
		})

		require.NoError(t, m.Up(ctx))
		assert.Equal(t, []uuid.UUID{idM1, idM2}, appliedIDs(t, m))

		rows, err := d.QueryContext(ctx, `SELECT id, email, balance FROM accounts ORDER BY id`)
		require.NoError(t, err)
		type account struct {
			ID      int
			Email   string
			Balance int
		}
		var got []account
		for rows.Next() {
			var a account
			require.NoError(t, rows.Scan(&a.ID, &a.Email, &a.Balance))
			got = append(got, a)
		}
		require.NoError(t, rows.Err())
		require.NoError(t, rows.Close())
		assert.Equal(t, []account{
			{1, "alice@example.com", 100},
			{2, "bob@example.com", 0},
			{3, "carol@example.com", 7},
		}, got)

		schema, err := queries.Schema(ctx, d)
		require.NoError(t, err)
		names := make([]string, 0, len(schema))
		for _, obj := range schema {
			names = append(names, obj.Name)
		}
		assert.Contains(t, names, "idx_accounts_email")
		assert.Contains(t, names, "idx_accounts_balance")
		assert.NotContains(t, names, "accounts_new")

		viols, err := queries.ForeignKeyViolations(ctx, d)
		require.NoError(t, err)
		assert.Empty(t, viols)

		// References to the rebuilt table are still enforced.
		_, err = d.ExecContext(ctx, `INSERT INTO payments (id, account_id, amount) VALUES (3, 99, 1)`)
		require.Error(t, err)
		_, err = d.ExecContext(ctx, `INSERT INTO payments (id, account_id, amount) VALUES (3, 2, 1)`)
		require.NoError(t, err)
	})

	t.Run("ok/drop_index_and_column", func(t *testing.T) {
		t.Parallel()

		d := newTestDB(t)
		ctx := context.Background()
		m := newTestMigrator(t, d, []*migrator.Migration{
			accountsMigration(),
			rebuildAccounts(migrator.TableRebuild{
				Table:       "accounts",
				Definition:  `id INTEGER PRIMARY KEY, balance INTEGER`,
				Columns:     []migrator.ColumnMapping{migrator.Col("id"), migrator.Col("balance")},
				DropIndexes: []string{"idx_accounts_email"},
			}),
		})

		require.NoError(t, m.Up(ctx))

		schema, err := queries.Schema(ctx, d)
		require.NoError(t, err)
		for _, obj := range schema {
			assert.NotEqual(t, "idx_accounts_email", obj.Name)
		}
		var n int
		require.NoError(t, d.QueryRowContext(ctx, `SELECT count(*) FROM accounts`).Scan(&n))
		assert.Equal(t, 3, n)
	})

	t.Run("err/failure_leaves_schema_intact", func(t *testing.T) {
		t.Parallel()

		d := newTestDB(t)
		ctx := context.Background()
		m := newTestMigrator(t, d, []*migrator.Migration{accountsMigration()})
		require.NoError(t, m.Up(ctx))
		before, err := queries.Schema(ctx, d)
		require.NoError(t, err)

		// Every email is mapped to the same value, violating the new UNIQUE
		// constraint halfway through the copy.
		m = newTestMigrator(t, d, []*migrator.Migration{
			accountsMigration(),
			rebuildAccounts(migrator.TableRebuild{
				Table:      "accounts",
				Definition: `id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE, balance INTEGER`,
				Columns: []migrator.ColumnMapping{
					migrator.Col("id"),
					{Name: "email", Expr: "'same@example.com'"},
					migrator.Col("balance"),
				},
			}),
		})

		err = m.Up(ctx)
		var failErr *migrator.MigrationFailedError
		require.ErrorAs(t, err, &failErr)
		assert.Equal(t, idM2, failErr.Migration)
		assert.Contains(t, err.Error(), "UNIQUE constraint failed")

		after, err := queries.Schema(ctx, d)
		require.NoError(t, err)
		if diff := cmp.Diff(before, after); diff != "" {
			t.Errorf("schema changed (-before +after):\n%s", diff)
		}
		assert.Equal(t, []uuid.UUID{idM1}, appliedIDs(t, m))
	})

	t.Run("err/invalid_table_name", func(t *testing.T) {
		t.Parallel()

		d := newTestDB(t)
		m := newTestMigrator(t, d, []*migrator.Migration{
			accountsMigration(),
			rebuildAccounts(migrator.TableRebuild{Table: `accounts"; --`, Definition: "id INTEGER"}),
		})

		err := m.Up(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})
}

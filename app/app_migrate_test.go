package app

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"

	aerrors "go.hackfix.me/graft/app/errors"
	"go.hackfix.me/graft/db/migrator"
	"go.hackfix.me/graft/db/queries"
)

const (
	idUsers = "0b0c7a3e-2f1d-4c55-9a64-3c1d7f0e8a01"
	idEmail = "5e9d1c44-8b7a-4f2e-b3d1-6a0f2c9e7b02"
	idPurge = "a17f3b20-4c9e-4d8a-8e5b-1f2d3c4b5a03"
)

func writeBaseMigrations(t *testing.T, app *testApp) {
	t.Helper()

	app.writeFile(t, "/migrations/"+idUsers+"-create_users.up.sql",
		"-- description: Create users\nCREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);\n")
	app.writeFile(t, "/migrations/"+idUsers+"-create_users.down.sql", "DROP TABLE users;\n")
	app.writeFile(t, "/migrations/"+idEmail+"-add_email.up.sql",
		"-- depends: "+idUsers+"\n-- description: Add email\n"+
			"ALTER TABLE users ADD COLUMN email TEXT;\nCREATE INDEX idx_users_email ON users (email);\n")
	app.writeFile(t, "/migrations/"+idEmail+"-add_email.down.sql",
		"DROP INDEX idx_users_email;\nALTER TABLE users DROP COLUMN email;\n")
}

func TestAppMigrate(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))
	writeBaseMigrations(t, app)

	// The subtests run in order, each one building on the previous state.
	steps := []struct {
		name      string
		args      []string
		expStdout []string
		expStderr []string
		expErr    string
		expKind   string
	}{
		{
			name:      "ok/status_fresh",
			args:      []string{"status"},
			expStdout: []string{idUsers, idEmail, "pending", "0 applied, 2 pending."},
		},
		{
			name:      "ok/plan",
			args:      []string{"plan"},
			expStdout: []string{"up", idUsers, "Create users", "2 to apply, 0 to revert."},
		},
		{
			name:      "ok/migrate_dry_run",
			args:      []string{"migrate", "--dry-run"},
			expStdout: []string{"2 to apply, 0 to revert."},
		},
		{
			name: "ok/migrate",
			args: []string{"migrate"},
			expStdout: []string{
				fmt.Sprintf("Applied %s Create users\nApplied %s Add email\n", idUsers, idEmail),
			},
			expStderr: []string{
				"running migration plan", "up=2", "down=0",
				"applied migration", "migration_id=" + idEmail, "component=migrator",
			},
		},
		{
			name:      "ok/migrate_up_to_date",
			args:      []string{"migrate"},
			expStdout: []string{"Nothing to do, the database is up to date."},
		},
		{
			name:      "ok/schema",
			args:      []string{"schema"},
			expStdout: []string{"CREATE TABLE users", "CREATE INDEX idx_users_email ON users (email);"},
		},
		{
			name:      "ok/status_applied",
			args:      []string{"status"},
			expStdout: []string{"applied", "1 hour ago", "yes", "2 applied, 0 pending."},
		},
		{
			name:      "ok/revert_dry_run",
			args:      []string{"revert", idUsers, "--dry-run"},
			expStdout: []string{"0 to apply, 2 to revert."},
		},
		{
			name: "ok/revert_dependents",
			args: []string{"revert", idUsers},
			expStdout: []string{
				fmt.Sprintf("Reverted %s Add email\nReverted %s Create users\n", idEmail, idUsers),
			},
			expStderr: []string{"reverted migration", "direction=down"},
		},
		{
			name: "ok/migrate_to",
			args: []string{"migrate", "--to", idUsers},
			expStdout: []string{
				fmt.Sprintf("Applied %s Create users\n", idUsers),
			},
		},
		{
			name:    "err/revert_unknown",
			args:    []string{"revert", "ffffffff-0000-4000-8000-000000000099"},
			expErr:  "failed planning revert",
			expKind: "unknown_migration",
		},
		{
			name:   "err/invalid_id",
			args:   []string{"revert", "not-a-uuid"},
			expErr: "failed parsing CLI arguments",
		},
	}

	for _, st := range steps {
		// Give applied migrations some age.
		if st.name == "ok/status_applied" {
			app.clock.Add(time.Hour)
		}

		err := app.Run(st.args...)
		stdout, stderr := app.stdout.String(), app.stderr.String()

		if st.expErr != "" {
			h(assert.ErrorContains(t, err, st.expErr, st.name))
			if st.expKind != "" {
				var serr *aerrors.StructuredError
				h(assert.True(t, errors.As(err, &serr), st.name))
				h(assert.Equal(t, st.expKind, serr.Metadata()["kind"], st.name))
			}
			continue
		}

		h(assert.NoError(t, err, st.name))
		for _, exp := range st.expStdout {
			h(assert.Contains(t, stdout, exp, st.name))
		}
		for _, exp := range st.expStderr {
			h(assert.Contains(t, stderr, exp, st.name))
		}
	}

	tables, err := queries.Tables(tctx, app.db)
	h(assert.NoError(t, err))
	h(assert.Equal(t, []string{"users"}, tables))
}

func TestAppIrreversible(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))
	writeBaseMigrations(t, app)
	// Without a down file, the migration can't be reverted.
	app.writeFile(t, "/migrations/"+idPurge+"-purge_nameless.up.sql",
		"-- depends: "+idEmail+"\nDELETE FROM users WHERE name = '';\n")

	h(assert.NoError(t, app.Run("migrate")))

	err = app.Run("revert", idUsers)
	h(assert.ErrorContains(t, err, "failed planning revert"))
	var irrErr *migrator.IrreversibleError
	h(assert.True(t, errors.As(err, &irrErr)))
	h(assert.Equal(t, idPurge, irrErr.Migration.String()))

	aerrors.Fprint(app.stderr, err)
	h(assert.Contains(t, app.stderr.String(), "kind: irreversible"))
	h(assert.Contains(t, app.stderr.String(), "Hint: irreversible migrations can only be undone"))

	err = app.Run("migrate", "--to", idEmail)
	h(assert.True(t, errors.As(err, &irrErr)))

	h(assert.NoError(t, app.Run("status")))
	h(assert.Contains(t, app.stdout.String(), "3 applied, 0 pending."))
	h(assert.Regexp(t, regexp.MustCompile(idPurge+`\s+applied\s+.*\s+no\s+`), app.stdout.String()))
}

func TestAppMigrateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		args    []string
		expErr  string
		expKind string
	}{
		{
			name: "err/unresolved_dependency",
			files: map[string]string{
				"/migrations/" + idEmail + "-add_email.up.sql": "-- depends: " + idUsers + "\nSELECT 1;\n",
			},
			args:    []string{"migrate"},
			expErr:  "depends on unknown migration " + idUsers,
			expKind: "unresolved_dependency",
		},
		{
			name: "err/cycle",
			files: map[string]string{
				"/migrations/" + idUsers + "-a.up.sql": "-- depends: " + idEmail + "\nSELECT 1;\n",
				"/migrations/" + idEmail + "-b.up.sql": "-- depends: " + idUsers + "\nSELECT 1;\n",
			},
			args:    []string{"status"},
			expErr:  "is part of a dependency cycle",
			expKind: "cyclic_dependency",
		},
		{
			name: "err/failed_migration",
			files: map[string]string{
				"/migrations/" + idUsers + "-bad.up.sql": "CREATE TABLE t (id INTEGER);\nINSERT INTO missing VALUES (1);\n",
			},
			args:    []string{"migrate"},
			expErr:  "no such table: missing",
			expKind: "migration_failed",
		},
		{
			name: "err/invalid_file_name",
			files: map[string]string{
				"/migrations/001_init.up.sql": "SELECT 1;\n",
			},
			args:   []string{"plan"},
			expErr: "invalid migration file name '001_init.up.sql'",
		},
		{
			name:   "err/missing_dir",
			args:   []string{"status", "--migrations-dir", "/nope"},
			expErr: "failed loading migrations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tctx, cancel, h := newTestContext(t, 5*time.Second)
			defer cancel()

			app, err := newTestApp(tctx)
			h(assert.NoError(t, err))
			for path, data := range tt.files {
				app.writeFile(t, path, data)
			}

			err = app.Run(tt.args...)
			h(assert.Error(t, err))
			var buf bytes.Buffer
			aerrors.Fprint(&buf, err)
			h(assert.Contains(t, buf.String(), tt.expErr))
			if tt.expKind != "" {
				h(assert.Equal(t, tt.expKind, migrator.ErrorKind(err)))
			}

			tables, err := queries.Tables(tctx, app.db)
			h(assert.NoError(t, err))
			h(assert.Empty(t, tables))
		})
	}
}

func TestAppMigrationsTable(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))
	writeBaseMigrations(t, app)

	h(assert.NoError(t, app.Run("migrate", "--migrations-table", "schema_history")))

	var n int
	err = app.db.QueryRowContext(tctx, `SELECT count(*) FROM schema_history`).Scan(&n)
	h(assert.NoError(t, err))
	h(assert.Equal(t, 2, n))
}

func TestAppRegistry(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	id := uuid.MustParse(idUsers)
	reg := migrator.MustRegistry(&migrator.Migration{
		ID:          id,
		Description: "Create widgets",
		Up:          migrator.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY)`),
		Down:        migrator.Exec(`DROP TABLE widgets`),
	})
	app, err := newTestApp(tctx, WithRegistry(reg))
	h(assert.NoError(t, err))

	h(assert.NoError(t, app.Run("migrate")))
	h(assert.Contains(t, app.stdout.String(), "Applied "+idUsers+" Create widgets"))

	tables, err := queries.Tables(tctx, app.db)
	h(assert.NoError(t, err))
	h(assert.Equal(t, []string{"widgets"}, tables))
}

func TestAppNew(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))

	createdRx := regexp.MustCompile(`Created migration ([0-9a-f-]{36})`)

	h(assert.NoError(t, app.Run("new", "create_users")))
	match := createdRx.FindStringSubmatch(app.stdout.String())
	h(assert.Len(t, match, 2))
	firstID := match[1]

	up, err := readFile(app, "/migrations/"+firstID+"-create_users.up.sql")
	h(assert.NoError(t, err))
	h(assert.NotContains(t, up, "-- depends:"))

	h(assert.NoError(t, app.Run("new", "add_email", "--description", "Add email", "--irreversible")))
	match = createdRx.FindStringSubmatch(app.stdout.String())
	h(assert.Len(t, match, 2))
	secondID := match[1]

	up, err = readFile(app, "/migrations/"+secondID+"-add_email.up.sql")
	h(assert.NoError(t, err))
	h(assert.Contains(t, up, "-- depends: "+firstID+"\n"))
	h(assert.Contains(t, up, "-- description: Add email\n"))
	down, err := readFile(app, "/migrations/"+secondID+"-add_email.down.sql")
	h(assert.NoError(t, err))
	h(assert.Equal(t, migrator.IrreversibleMarker, strings.TrimSpace(down)))

	h(assert.NoError(t, app.Run("status")))
	h(assert.Contains(t, app.stdout.String(), "0 applied, 2 pending."))

	err = app.Run("new", "bad name!")
	h(assert.ErrorContains(t, err, "invalid migration name 'bad name!'"))
}

func readFile(app *testApp, path string) (string, error) {
	data, err := vfs.ReadFile(app.ctx.FS, path)
	return string(data), err
}

func TestAppEnv(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	app, err := newTestApp(tctx)
	h(assert.NoError(t, err))
	writeBaseMigrations(t, app)
	h(assert.NoError(t, app.env.Set("GRAFT_MIGRATIONS_TABLE", "env_history")))

	h(assert.NoError(t, app.Run("migrate", "--to", idUsers)))

	var n int
	err = app.db.QueryRowContext(tctx, `SELECT count(*) FROM env_history`).Scan(&n)
	h(assert.NoError(t, err))
	h(assert.Equal(t, 1, n))
}

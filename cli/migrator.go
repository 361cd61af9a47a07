package cli

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	actx "go.hackfix.me/graft/app/context"
	aerrors "go.hackfix.me/graft/app/errors"
	"go.hackfix.me/graft/db"
	"go.hackfix.me/graft/db/migrator"
	"go.hackfix.me/graft/db/types"
)

// newMigrator opens the database and loads the migration registry, unless
// they're already initialized, and returns a migrator for them.
func newMigrator(appCtx *actx.Context) (*migrator.Migrator, error) {
	if err := openDB(appCtx); err != nil {
		return nil, err
	}

	reg, err := loadRegistry(appCtx)
	if err != nil {
		return nil, err
	}

	m, err := appCtx.DB.Migrator(reg,
		migrator.WithLogger(appCtx.Logger),
		migrator.WithClock(appCtx.Clock),
		migrator.WithTableName(appCtx.Config.Migrations.Table.V),
	)
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed creating migrator", err, "")
	}

	return m, nil
}

func openDB(appCtx *actx.Context) error {
	if appCtx.DB != nil {
		return nil
	}

	path := appCtx.Config.Database.Path.V
	if !strings.HasPrefix(path, "file:") && !strings.Contains(path, ":memory:") {
		if err := appCtx.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return aerrors.NewRuntimeError("failed creating database directory", err, "")
		}
	}

	d, err := db.Open(appCtx.Ctx, path, appCtx.Clock.Now,
		db.WithBusyTimeout(appCtx.Config.Database.BusyTimeout.V))
	if err != nil {
		return aerrors.NewRuntimeError("failed opening database", err, "", "path", path)
	}
	appCtx.DB = d

	return nil
}

func loadRegistry(appCtx *actx.Context) (*migrator.Registry, error) {
	if appCtx.Registry != nil {
		return appCtx.Registry, nil
	}

	dir := appCtx.Config.Migrations.Dir.V
	migs, err := migrator.LoadMigrations(dirFS{fs: appCtx.FS, dir: dir})
	if err != nil {
		hint := ""
		if errors.Is(err, fs.ErrNotExist) {
			hint = "create the first migration with 'graft new <name>', or set --migrations-dir"
		}
		return nil, aerrors.NewRuntimeError("failed loading migrations", err, hint, "dir", dir)
	}

	reg, err := migrator.NewRegistry(migs...)
	if err != nil {
		return nil, aerrors.NewRuntimeError("invalid migrations", err, "", "dir", dir)
	}
	appCtx.Registry = reg

	return reg, nil
}

// migrationError wraps an error returned by the migrator with a hint about how
// to resolve it.
func migrationError(msg string, err error) error {
	kind := migrator.ErrorKind(err)

	var hint string
	switch kind {
	case "unresolved_dependency":
		hint = "check the '-- depends:' headers of the migration files"
	case "cyclic_dependency":
		hint = "a migration can't depend, directly or not, on itself"
	case "irreversible":
		hint = "irreversible migrations can only be undone by restoring a backup"
	case "migration_failed":
		hint = "the failed migration was rolled back; migrations before it remain applied"
	case "in_progress":
		hint = "wait for the running migration to finish"
	}
	if errors.As(err, &types.LockedError{}) {
		hint = "another process is writing to the database; retry, or raise database.busy_timeout"
	}

	return aerrors.NewRuntimeError(msg, err, hint, "kind", kind)
}

// shortDescription truncates desc to at most 60 characters.
func shortDescription(desc string) string {
	runes := []rune(desc)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return desc
}

package cli

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mandelsoft/vfs/pkg/vfs"

	actx "go.hackfix.me/graft/app/context"
	aerrors "go.hackfix.me/graft/app/errors"
	"go.hackfix.me/graft/db/migrator"
)

var migrationNameRx = regexp.MustCompile(`^[\w-]+$`)

// The NewCmd command creates the files of a new SQL migration.
type NewCmd struct {
	Name         string      `arg:"" help:"Short name of the migration, e.g. add_users_email."`
	Depends      []uuid.UUID `help:"IDs of the migrations the new one depends on. Default: the migrations nothing depends on yet." placeholder:"ID" sep:","`
	Description  string      `help:"Description of the migration."`
	Irreversible bool        `help:"Mark the migration as irreversible."`
}

// Run the new command.
func (c *NewCmd) Run(appCtx *actx.Context) error {
	if !migrationNameRx.MatchString(c.Name) {
		return aerrors.NewRuntimeError(
			fmt.Sprintf("invalid migration name '%s'", c.Name), nil,
			"use only letters, digits, underscores and dashes")
	}

	dir := appCtx.Config.Migrations.Dir.V
	if err := appCtx.FS.MkdirAll(dir, 0o755); err != nil {
		return aerrors.NewRuntimeError("failed creating migrations directory", err, "")
	}

	deps := c.Depends
	if len(deps) == 0 {
		reg, err := loadRegistry(appCtx)
		if err != nil {
			return err
		}
		for _, m := range reg.Heads() {
			deps = append(deps, m.ID)
		}
	}

	id := uuid.New()
	base := filepath.Join(dir, fmt.Sprintf("%s-%s", id, c.Name))
	upPath, downPath := base+".up.sql", base+".down.sql"

	var up strings.Builder
	if len(deps) > 0 {
		ids := make([]string, len(deps))
		for i, dep := range deps {
			ids[i] = dep.String()
		}
		fmt.Fprintf(&up, "-- depends: %s\n", strings.Join(ids, ", "))
	}
	if c.Description != "" {
		fmt.Fprintf(&up, "-- description: %s\n", c.Description)
	}
	up.WriteString("\n")

	down := "\n"
	if c.Irreversible {
		down = migrator.IrreversibleMarker + "\n"
	}

	if err := vfs.WriteFile(appCtx.FS, upPath, []byte(up.String()), 0o644); err != nil {
		return aerrors.NewRuntimeError("failed writing migration file", err, "", "path", upPath)
	}
	if err := vfs.WriteFile(appCtx.FS, downPath, []byte(down), 0o644); err != nil {
		return aerrors.NewRuntimeError("failed writing migration file", err, "", "path", downPath)
	}

	_, err := fmt.Fprintf(appCtx.Stdout, "Created migration %s\n  %s\n  %s\n", id, upPath, downPath)

	return err //nolint:wrapcheck // This is fine.
}

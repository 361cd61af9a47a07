package cli

import (
	"fmt"

	"github.com/google/uuid"

	actx "go.hackfix.me/graft/app/context"
	"go.hackfix.me/graft/db/migrator"
)

// The Migrate command applies pending migrations. With --to, it moves the
// database to the state where exactly the given migrations and their
// dependencies are applied, reverting the others.
type Migrate struct {
	To     []uuid.UUID `help:"Migrate to the state where exactly these migrations and their dependencies are applied." placeholder:"ID" sep:","`
	DryRun bool        `help:"Only print the migrations that would run."`
}

// Run the migrate command.
func (c *Migrate) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	tgt := target(c.To)
	plan, err := m.Plan(appCtx.Ctx, tgt)
	if err != nil {
		return migrationError("failed planning migrations", err)
	}
	if c.DryRun || len(plan) == 0 {
		return renderPlan(plan, appCtx.Stdout)
	}

	if err = m.MigrateTo(appCtx.Ctx, tgt); err != nil {
		return migrationError("failed migrating database", err)
	}

	for _, s := range plan {
		verb := "Applied"
		if s.Direction == migrator.MigrationDown {
			verb = "Reverted"
		}
		_, err = fmt.Fprintf(appCtx.Stdout, "%s %s %s\n", verb, s.Migration.ID, s.Migration.Description)
		if err != nil {
			return err //nolint:wrapcheck // This is fine.
		}
	}

	return nil
}

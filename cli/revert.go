package cli

import (
	"fmt"

	"github.com/google/uuid"

	actx "go.hackfix.me/graft/app/context"
)

// The Revert command reverts migrations, together with every applied
// migration that depends on them.
type Revert struct {
	IDs    []uuid.UUID `arg:"" name:"id" help:"IDs of the migrations to revert."`
	DryRun bool        `help:"Only print the migrations that would be reverted."`
}

// Run the revert command.
func (c *Revert) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	plan, err := m.RevertPlan(appCtx.Ctx, c.IDs...)
	if err != nil {
		return migrationError("failed planning revert", err)
	}
	if c.DryRun || len(plan) == 0 {
		return renderPlan(plan, appCtx.Stdout)
	}

	if err = m.Revert(appCtx.Ctx, c.IDs...); err != nil {
		return migrationError("failed reverting migrations", err)
	}

	for _, s := range plan {
		_, err = fmt.Fprintf(appCtx.Stdout, "Reverted %s %s\n", s.Migration.ID, s.Migration.Description)
		if err != nil {
			return err //nolint:wrapcheck // This is fine.
		}
	}

	return nil
}

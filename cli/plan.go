package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	actx "go.hackfix.me/graft/app/context"
	aerrors "go.hackfix.me/graft/app/errors"
	"go.hackfix.me/graft/db/migrator"
)

// The Plan command prints the migrations that would run to reach a target
// state.
type Plan struct {
	To []uuid.UUID `help:"Migrate to the state where exactly these migrations and their dependencies are applied." placeholder:"ID" sep:","`
}

// Run the plan command.
func (c *Plan) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	plan, err := m.Plan(appCtx.Ctx, target(c.To))
	if err != nil {
		return migrationError("failed planning migrations", err)
	}

	return renderPlan(plan, appCtx.Stdout)
}

func target(ids []uuid.UUID) migrator.Target {
	if len(ids) == 0 {
		return migrator.Latest()
	}
	return migrator.To(ids...)
}

func renderPlan(plan migrator.Plan, w io.Writer) error {
	if len(plan) == 0 {
		_, err := fmt.Fprintln(w, "Nothing to do, the database is up to date.")
		return err //nolint:wrapcheck // This is fine.
	}

	data := make([][]string, 0, len(plan))
	for i, s := range plan {
		data = append(data, []string{
			strconv.Itoa(i + 1), s.Direction.String(),
			s.Migration.ID.String(), shortDescription(s.Migration.Description),
		})
	}

	if err := renderTable([]column{
		{name: "#", alignRight: true}, {name: "Direction"}, {name: "ID"}, {name: "Description"},
	}, data, w); err != nil {
		return aerrors.NewRuntimeError("failed rendering migration plan", err, "")
	}

	_, err := fmt.Fprintf(w, "\n%s to apply, %s to revert.\n",
		humanize.Comma(int64(plan.Count(migrator.MigrationUp))),
		humanize.Comma(int64(plan.Count(migrator.MigrationDown))))

	return err //nolint:wrapcheck // This is fine.
}

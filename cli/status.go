package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"

	actx "go.hackfix.me/graft/app/context"
	aerrors "go.hackfix.me/graft/app/errors"
	"go.hackfix.me/graft/db/migrator"
)

// The Status command prints the state of every known migration.
type Status struct{}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	statuses, err := m.Status(appCtx.Ctx)
	if err != nil {
		return migrationError("failed reading migration status", err)
	}

	now := appCtx.Clock.Now()
	var pending, applied int
	data := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state := st.State.String()
		if st.Modified {
			state += " (modified)"
		}

		appliedAt := "-"
		if st.Applied != nil {
			appliedAt = humanize.RelTime(st.Applied.AppliedAt, now, "ago", "from now")
		}

		reversible := "no"
		if st.Reversible {
			reversible = "yes"
		}
		if st.State == migrator.StateUnknown {
			reversible = "-"
		}

		switch st.State {
		case migrator.StatePending:
			pending++
		case migrator.StateApplied, migrator.StateUnknown:
			applied++
		}

		data = append(data, []string{
			st.ID.String(), state, appliedAt, reversible, shortDescription(st.Description),
		})
	}

	if len(data) > 0 {
		err = renderTable([]column{
			{name: "ID"}, {name: "State"}, {name: "Applied"}, {name: "Reversible"}, {name: "Description"},
		}, data, appCtx.Stdout)
		if err != nil {
			return aerrors.NewRuntimeError("failed rendering migration status", err, "")
		}
		if _, err = fmt.Fprintln(appCtx.Stdout); err != nil {
			return err //nolint:wrapcheck // This is fine.
		}
	}

	_, err = fmt.Fprintf(appCtx.Stdout, "%s applied, %s pending.\n",
		humanize.Comma(int64(applied)), humanize.Comma(int64(pending)))

	return err //nolint:wrapcheck // This is fine.
}

package cli

import (
	"fmt"

	actx "go.hackfix.me/graft/app/context"
	aerrors "go.hackfix.me/graft/app/errors"
	"go.hackfix.me/graft/db/queries"
)

// The Schema command prints the SQL definitions of all user tables, indexes,
// views and triggers.
type Schema struct{}

// Run the schema command.
func (c *Schema) Run(appCtx *actx.Context) error {
	if err := openDB(appCtx); err != nil {
		return err
	}

	objs, err := queries.Schema(appCtx.Ctx, appCtx.DB)
	if err != nil {
		return aerrors.NewRuntimeError("failed reading database schema", err, "")
	}

	for _, obj := range objs {
		if obj.SQL == "" {
			continue
		}
		if _, err = fmt.Fprintf(appCtx.Stdout, "%s;\n", obj.SQL); err != nil {
			return err //nolint:wrapcheck // This is fine.
		}
	}

	return nil
}

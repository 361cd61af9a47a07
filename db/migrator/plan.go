package migrator

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Target is the desired state of a database: either all registered
// migrations applied, or exactly the given migrations and their dependencies.
type Target struct {
	latest bool
	ids    []uuid.UUID
}

// Latest targets the state where every registered migration is applied.
func Latest() Target {
	return Target{latest: true}
}

// To targets the state where exactly the given migrations and all their
// dependencies are applied. Applied migrations outside of that set are
// reverted. To() with no IDs reverts everything.
func To(ids ...uuid.UUID) Target {
	return Target{ids: slices.Clone(ids)}
}

// IsLatest reports whether the target is the latest state.
func (t Target) IsLatest() bool {
	return t.latest
}

func (t Target) String() string {
	if t.latest {
		return "latest"
	}
	ids := make([]string, len(t.ids))
	for i, id := range t.ids {
		ids[i] = id.String()
	}
	return strings.Join(ids, ",")
}

// Step is a single migration run in a plan.
type Step struct {
	Migration *Migration
	Direction Direction
}

// Plan is an ordered list of migration runs.
type Plan []Step

// IDs returns the IDs of the plan's migrations, in order.
func (p Plan) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p))
	for i, s := range p {
		ids[i] = s.Migration.ID
	}
	return ids
}

// Count returns the number of steps in the given direction.
func (p Plan) Count(dir Direction) int {
	n := 0
	for _, s := range p {
		if s.Direction == dir {
			n++
		}
	}
	return n
}

// planTarget computes the steps that move a database with the applied
// migrations to the target state. Reverts come first, dependents before
// their dependencies, followed by the forward migrations in resolved order.
func planTarget(reg *Registry, applied IDSet, target Target) (Plan, error) {
	order, err := topoSort(reg)
	if err != nil {
		return nil, err
	}

	var desired IDSet
	if target.latest {
		desired = make(IDSet, reg.Len())
		for _, m := range order {
			desired.Add(m.ID)
		}
	} else {
		desired, err = Closure(reg, target.ids...)
		if err != nil {
			return nil, err
		}
	}

	plan := Plan{}
	for _, m := range slices.Backward(order) {
		if applied.Has(m.ID) && !desired.Has(m.ID) {
			plan = append(plan, Step{Migration: m, Direction: MigrationDown})
		}
	}
	for _, m := range order {
		if !applied.Has(m.ID) && desired.Has(m.ID) {
			plan = append(plan, Step{Migration: m, Direction: MigrationUp})
		}
	}

	if err = checkReversible(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// planRevert computes the steps that revert the given migrations and their
// applied dependents.
func planRevert(reg *Registry, applied IDSet, ids []uuid.UUID) (Plan, error) {
	migs, err := ResolveRevert(reg, applied, NewIDSet(ids...))
	if err != nil {
		return nil, err
	}

	plan := make(Plan, 0, len(migs))
	for _, m := range migs {
		plan = append(plan, Step{Migration: m, Direction: MigrationDown})
	}

	if err = checkReversible(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// checkReversible fails if any revert step in the plan is known to be
// irreversible, so that a revert request doesn't stop halfway.
func checkReversible(plan Plan) error {
	for _, s := range plan {
		if s.Direction == MigrationDown && !s.Migration.Reversible() {
			return &IrreversibleError{Migration: s.Migration.ID}
		}
	}
	return nil
}

package migrator

import (
	"slices"

	"github.com/google/uuid"
)

// Resolve returns every migration in the registry that isn't in applied,
// ordered so that each migration comes after all of its dependencies. Among
// migrations whose dependencies are satisfied, registration order decides.
//
// The whole registry is checked, including applied migrations: a dependency
// on an unknown migration fails with UnresolvedDependencyError, and a cycle
// fails with CyclicDependencyError.
func Resolve(reg *Registry, applied IDSet) ([]*Migration, error) {
	order, err := topoSort(reg)
	if err != nil {
		return nil, err
	}

	pending := make([]*Migration, 0, len(order))
	for _, m := range order {
		if !applied.Has(m.ID) {
			pending = append(pending, m)
		}
	}

	return pending, nil
}

// ResolveRevert returns the applied migrations that must be reverted in order
// to remove the migrations in remove: the migrations themselves, and every
// applied migration that depends on them, directly or not. Dependents come
// before their dependencies. Migrations in remove that aren't applied are
// ignored.
func ResolveRevert(reg *Registry, applied, remove IDSet) ([]*Migration, error) {
	order, err := topoSort(reg)
	if err != nil {
		return nil, err
	}
	for _, id := range remove.Sorted() {
		if !reg.Has(id) {
			return nil, &UnknownMigrationError{Migration: id}
		}
	}

	reverting := make(IDSet)
	for _, m := range order {
		if !applied.Has(m.ID) {
			continue
		}
		if remove.Has(m.ID) || slices.ContainsFunc(m.Dependencies, reverting.Has) {
			reverting.Add(m.ID)
		}
	}

	plan := make([]*Migration, 0, len(reverting))
	for _, m := range slices.Backward(order) {
		if reverting.Has(m.ID) {
			plan = append(plan, m)
		}
	}

	return plan, nil
}

// Closure returns the given migrations together with all the migrations they
// depend on, directly or not.
func Closure(reg *Registry, ids ...uuid.UUID) (IDSet, error) {
	closure := make(IDSet)
	stack := slices.Clone(ids)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if closure.Has(id) {
			continue
		}

		m, ok := reg.Get(id)
		if !ok {
			return nil, &UnknownMigrationError{Migration: id}
		}
		closure.Add(id)
		stack = append(stack, m.Dependencies...)
	}

	return closure, nil
}

// topoSort orders all registered migrations using Kahn's algorithm. The ready
// queue is kept sorted by registration position, which makes the result
// independent of map iteration order.
func topoSort(reg *Registry) ([]*Migration, error) {
	if err := checkDependencies(reg); err != nil {
		return nil, err
	}

	n := reg.Len()
	remaining := make([]int, n)
	dependents := make([][]int, n)
	ready := make([]int, 0, n)
	for i, m := range reg.migrations {
		remaining[i] = len(m.Dependencies)
		for _, dep := range m.Dependencies {
			j := reg.position(dep)
			dependents[j] = append(dependents[j], i)
		}
		if remaining[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]*Migration, 0, n)
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, reg.migrations[i])

		for _, j := range dependents[i] {
			remaining[j]--
			if remaining[j] == 0 {
				pos, _ := slices.BinarySearch(ready, j)
				ready = slices.Insert(ready, pos, j)
			}
		}
	}

	if len(order) < n {
		return nil, findCycle(reg, remaining)
	}

	return order, nil
}

func checkDependencies(reg *Registry) error {
	for _, m := range reg.migrations {
		for _, dep := range m.Dependencies {
			if !reg.Has(dep) {
				return &UnresolvedDependencyError{Migration: m.ID, Missing: dep}
			}
		}
	}
	return nil
}

// findCycle walks dependency edges between migrations Kahn's algorithm
// couldn't order. Each of them has at least one such dependency, so the walk
// eventually revisits a migration, which closes the cycle.
func findCycle(reg *Registry, remaining []int) error {
	start := slices.IndexFunc(remaining, func(r int) bool { return r > 0 })

	path := []int{}
	seen := map[int]int{}
	for i := start; ; {
		if at, ok := seen[i]; ok {
			cycle := make([]uuid.UUID, 0, len(path)-at)
			for _, j := range path[at:] {
				cycle = append(cycle, reg.migrations[j].ID)
			}
			return &CyclicDependencyError{Migration: reg.migrations[i].ID, Cycle: cycle}
		}
		seen[i] = len(path)
		path = append(path, i)

		for _, dep := range reg.migrations[i].Dependencies {
			if j := reg.position(dep); remaining[j] > 0 {
				i = j
				break
			}
		}
	}
}

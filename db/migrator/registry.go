package migrator

import (
	"slices"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Registry is the collection of all migrations known to an application. It's
// built once at startup and passed to the Migrator; it's never modified by it.
type Registry struct {
	migrations []*Migration
	index      map[uuid.UUID]int
}

// NewRegistry returns a registry with the given migrations, registered in the
// given order. All registration errors are reported together.
func NewRegistry(migrations ...*Migration) (*Registry, error) {
	r := &Registry{index: make(map[uuid.UUID]int, len(migrations))}

	var merr *multierror.Error
	for _, m := range migrations {
		if err := r.Register(m); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	return r, nil
}

// MustRegistry is like NewRegistry, but panics on error. It's meant for
// statically defined migration sets.
func MustRegistry(migrations ...*Migration) *Registry {
	r, err := NewRegistry(migrations...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a migration to the registry. Dependencies don't need to be
// registered yet; they're checked when a plan is resolved.
func (r *Registry) Register(m *Migration) error {
	if m == nil {
		return &InvalidMigrationError{Msg: "migration is nil"}
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := r.index[m.ID]; ok {
		return &DuplicateMigrationError{Migration: m.ID}
	}

	// Dependencies have set semantics; drop repeats but keep the declared
	// order so that error reporting stays deterministic.
	deps := make([]uuid.UUID, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if !slices.Contains(deps, dep) {
			deps = append(deps, dep)
		}
	}
	mc := *m
	mc.Dependencies = deps
	if isIrreversibleFunc(mc.Down) {
		mc.Irreversible = true
	}

	r.index[m.ID] = len(r.migrations)
	r.migrations = append(r.migrations, &mc)

	return nil
}

// Get returns the migration with the given ID.
func (r *Registry) Get(id uuid.UUID) (*Migration, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.migrations[i], true
}

// Has reports whether a migration with the given ID is registered.
func (r *Registry) Has(id uuid.UUID) bool {
	_, ok := r.index[id]
	return ok
}

// All returns all migrations in registration order.
func (r *Registry) All() []*Migration {
	return slices.Clone(r.migrations)
}

// Len returns the number of registered migrations.
func (r *Registry) Len() int {
	return len(r.migrations)
}

// Heads returns the migrations no other migration depends on, in registration
// order. New migrations usually depend on the current heads.
func (r *Registry) Heads() []*Migration {
	hasDependents := make(IDSet)
	for _, m := range r.migrations {
		for _, dep := range m.Dependencies {
			hasDependents.Add(dep)
		}
	}

	heads := make([]*Migration, 0)
	for _, m := range r.migrations {
		if !hasDependents.Has(m.ID) {
			heads = append(heads, m)
		}
	}

	return heads
}

func (r *Registry) position(id uuid.UUID) int {
	return r.index[id]
}

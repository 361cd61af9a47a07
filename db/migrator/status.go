package migrator

import (
	"context"

	"github.com/google/uuid"
)

// State is the state of a migration in a database.
type State int

// Migration states.
const (
	StatePending State = iota
	StateApplied
	// StateUnknown is the state of migrations recorded in the database but
	// missing from the registry.
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplied:
		return "applied"
	case StateUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// MigrationStatus describes a migration and whether it's applied.
type MigrationStatus struct {
	ID           uuid.UUID
	Description  string
	Dependencies []uuid.UUID
	State        State
	Reversible   bool
	// Modified is set for applied migrations whose checksum differs from the
	// one recorded when they were applied.
	Modified bool
	// Applied is the history record, if the migration is applied.
	Applied *AppliedMigration
}

// Status returns the state of every registered migration in resolved order,
// followed by applied migrations missing from the registry in the order they
// were applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	order, err := Resolve(m.registry, nil)
	if err != nil {
		return nil, err
	}

	history, err := m.tracker.list(ctx, m.db)
	if err != nil {
		return nil, err
	}
	applied := make(map[uuid.UUID]*AppliedMigration, len(history))
	for i := range history {
		applied[history[i].ID] = &history[i]
	}

	statuses := make([]MigrationStatus, 0, len(order)+len(history))
	for _, mig := range order {
		st := MigrationStatus{
			ID:           mig.ID,
			Description:  mig.Description,
			Dependencies: mig.Dependencies,
			State:        StatePending,
			Reversible:   mig.Reversible(),
		}
		if am, ok := applied[mig.ID]; ok {
			st.State = StateApplied
			st.Applied = am
			st.Modified = am.Checksum != "" && mig.Checksum != "" && am.Checksum != mig.Checksum
		}
		statuses = append(statuses, st)
	}

	for i := range history {
		am := &history[i]
		if m.registry.Has(am.ID) {
			continue
		}
		statuses = append(statuses, MigrationStatus{
			ID:          am.ID,
			Description: am.Description,
			State:       StateUnknown,
			Applied:     am,
		})
	}

	return statuses, nil
}

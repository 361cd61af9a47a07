package migrator

import (
	"log/slog"

	"github.com/benbjohnson/clock"
)

// Option is a function that allows configuring the Migrator.
type Option func(*Migrator) error

// WithLogger sets the logger used by the Migrator.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) error {
		m.logger = logger.With("component", "migrator")
		return nil
	}
}

// WithClock sets the clock used to timestamp and time migrations.
func WithClock(clk clock.Clock) Option {
	return func(m *Migrator) error {
		m.clock = clk
		return nil
	}
}

// WithTableName sets the name of the table that records applied migrations.
func WithTableName(name string) Option {
	return func(m *Migrator) error {
		t, err := newTracker(name)
		if err != nil {
			return err
		}
		m.tracker = t
		return nil
	}
}

// DefaultOptions returns the default Migrator options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.Default()),
		WithClock(clock.New()),
		WithTableName(DefaultTableName),
	}
}

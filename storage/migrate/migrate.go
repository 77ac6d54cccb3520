// Package migrate runs ordered, versioned schema migrations.
//
// A Set holds the migrations of one adapter. Plan selects the versions
// between the applied and the target version; Apply runs them in ascending
// order inside the caller's single upgrade transaction and stops at the
// first failure, so the adapter can roll back and nothing is partially
// applied.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDowngrade is returned when the target version is below the applied one.
	ErrDowngrade = errors.New("migrate: downgrade not supported")

	// ErrDuplicateVersion is returned when two migrations share a version.
	ErrDuplicateVersion = errors.New("migrate: duplicate version")

	// ErrInvalidVersion is returned for versions below one.
	ErrInvalidVersion = errors.New("migrate: version must be positive")
)

// Migration is one schema step. Tx is the adapter's transaction type.
type Migration[Tx any] struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx Tx) error
}

// MigrationError reports the migration that failed.
type MigrationError struct {
	Version int
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Set is an ordered collection of migrations.
type Set[Tx any] struct {
	migrations []Migration[Tx]
}

// New returns a set holding the given migrations.
func New[Tx any](migrations ...Migration[Tx]) (*Set[Tx], error) {
	s := &Set[Tx]{}

	for _, m := range migrations {
		if err := s.Register(m); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// MustNew is like New but panics on an invalid set.
func MustNew[Tx any](migrations ...Migration[Tx]) *Set[Tx] {
	s, err := New(migrations...)
	if err != nil {
		panic(err)
	}

	return s
}

// Register adds m to the set.
func (s *Set[Tx]) Register(m Migration[Tx]) error {
	if m.Version < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, m.Version)
	}

	for _, existing := range s.migrations {
		if existing.Version == m.Version {
			return fmt.Errorf("%w: %d", ErrDuplicateVersion, m.Version)
		}
	}

	s.migrations = append(s.migrations, m)
	sort.Slice(s.migrations, func(i, j int) bool { return s.migrations[i].Version < s.migrations[j].Version })

	return nil
}

// Current returns the highest registered version, or zero for an empty set.
func (s *Set[Tx]) Current() int {
	if len(s.migrations) == 0 {
		return 0
	}

	return s.migrations[len(s.migrations)-1].Version
}

// Plan returns the migrations with from < version <= to in ascending order.
func (s *Set[Tx]) Plan(from, to int) ([]Migration[Tx], error) {
	if to < from {
		return nil, fmt.Errorf("%w: from %d to %d", ErrDowngrade, from, to)
	}

	var plan []Migration[Tx]

	for _, m := range s.migrations {
		if m.Version > from && m.Version <= to {
			plan = append(plan, m)
		}
	}

	return plan, nil
}

// Apply runs the plan from from to to inside tx. After every migration
// succeeded, record is called with the target version so the adapter can
// store it in the same transaction. It returns the applied plan.
func (s *Set[Tx]) Apply(ctx context.Context, tx Tx, from, to int, record func(ctx context.Context, tx Tx, version int) error) ([]Migration[Tx], error) {
	plan, err := s.Plan(from, to)
	if err != nil {
		return nil, err
	}

	if len(plan) == 0 {
		return nil, nil
	}

	for _, m := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := m.Up(ctx, tx); err != nil {
			return nil, &MigrationError{Version: m.Version, Name: m.Name, Err: err}
		}
	}

	if record != nil {
		if err := record(ctx, tx, to); err != nil {
			return nil, fmt.Errorf("migrate: record version %d: %w", to, err)
		}
	}

	return plan, nil
}

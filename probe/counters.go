package probe

import (
	"fmt"
	"sync/atomic"
)

// CounterID indexes a counter in declaration order. IDs are fixed when the
// Object is built; they are never taken from packet data.
type CounterID int

// Store holds the counters of one attachment.
//
// Every counter is an atomic uint64, so concurrent invocations never lose an
// increment. Increments wrap modulo 2^64. Reads are weakly consistent: a
// Snapshot taken while packets are in flight may mix values observed at
// different instants.
type Store struct {
	specs  []CounterSpec
	values []atomic.Uint64
}

// NewStore creates a store holding each counter at its initial value.
func NewStore(specs []CounterSpec) *Store {
	s := &Store{
		specs:  append([]CounterSpec(nil), specs...),
		values: make([]atomic.Uint64, len(specs)),
	}
	s.Reset()

	return s
}

// Increment adds one to the counter. It cannot fail.
func (s *Store) Increment(id CounterID) {
	s.values[id].Add(1)
}

// Load returns the current value of the counter.
func (s *Store) Load(id CounterID) uint64 {
	return s.values[id].Load()
}

// Read returns the current value of the counter called name.
func (s *Store) Read(name string) (uint64, error) {
	for i, spec := range s.specs {
		if spec.Name == name {
			return s.values[i].Load(), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownCounter, name)
}

// Names lists the counters in declaration order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.specs))
	for _, spec := range s.specs {
		names = append(names, spec.Name)
	}

	return names
}

func (s *Store) Len() int {
	return len(s.specs)
}

// Snapshot returns every counter by name.
func (s *Store) Snapshot() map[string]uint64 {
	snap := make(map[string]uint64, len(s.specs))
	for i, spec := range s.specs {
		snap[spec.Name] = s.values[i].Load()
	}

	return snap
}

// Reset restores every counter to its initial value.
func (s *Store) Reset() {
	for i, spec := range s.specs {
		s.values[i].Store(spec.Initial)
	}
}

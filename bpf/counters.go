package bpf

import (
	"fmt"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/tcassar-diss/xdpcount/probe"
)

// Counters reads and resets the kernel counter map. Each counter has one slot
// per possible CPU; the value of a counter is the wrapping sum of its slots.
// A read while packets are in flight may see some CPUs' slots before and
// others after an increment.
type Counters struct {
	m     *ebpf.Map
	specs []probe.CounterSpec
	ncpu  int
}

func newCounters(m *ebpf.Map, specs []probe.CounterSpec) *Counters {
	return &Counters{
		m:     m,
		specs: append([]probe.CounterSpec(nil), specs...),
		ncpu:  ebpf.MustPossibleCPU(),
	}
}

// OpenPinned opens the counter map a running probe pinned under pinPath, for
// read-only inspection from another process.
func OpenPinned(pinPath string, names []string) (*Counters, error) {
	path := filepath.Join(pinPath, CounterMapName)

	m, err := ebpf.LoadPinnedMap(path, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open pinned counter map %s: %w", path, err)
	}

	specs := make([]probe.CounterSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, probe.CounterSpec{Name: n})
	}

	if uint32(len(specs)) > m.MaxEntries() {
		m.Close()
		return nil, fmt.Errorf("%w: %d names for a map of %d entries", probe.ErrBadCounter, len(specs), m.MaxEntries())
	}

	return newCounters(m, specs), nil
}

// Reset writes every counter's initial value into CPU 0's slot and zeroes the
// others.
func (c *Counters) Reset() error {
	for i, spec := range c.specs {
		values := make([]uint64, c.ncpu)
		values[0] = spec.Initial

		if err := c.m.Put(uint32(i), values); err != nil {
			return fmt.Errorf("failed to initialise counter %s to %d: %w", spec.Name, spec.Initial, err)
		}
	}

	return nil
}

// PerCPU returns the raw per-CPU slots of the counter called name.
func (c *Counters) PerCPU(name string) ([]uint64, error) {
	idx, err := c.index(name)
	if err != nil {
		return nil, err
	}

	var values []uint64
	if err := c.m.Lookup(uint32(idx), &values); err != nil {
		return nil, fmt.Errorf("failed to read counter %s: %w", name, err)
	}

	return values, nil
}

// Read returns the aggregated value of the counter called name.
func (c *Counters) Read(name string) (uint64, error) {
	values, err := c.PerCPU(name)
	if err != nil {
		return 0, err
	}

	var sum uint64
	for _, v := range values {
		sum += v
	}

	return sum, nil
}

func (c *Counters) Names() []string {
	names := make([]string, 0, len(c.specs))
	for _, spec := range c.specs {
		names = append(names, spec.Name)
	}

	return names
}

// Snapshot reads every counter.
func (c *Counters) Snapshot() (map[string]uint64, error) {
	snap := make(map[string]uint64, len(c.specs))

	for _, spec := range c.specs {
		v, err := c.Read(spec.Name)
		if err != nil {
			return nil, err
		}

		snap[spec.Name] = v
	}

	return snap, nil
}

func (c *Counters) Close() error {
	return c.m.Close()
}

func (c *Counters) index(name string) (int, error) {
	for i, spec := range c.specs {
		if spec.Name == name {
			return i, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", probe.ErrUnknownCounter, name)
}

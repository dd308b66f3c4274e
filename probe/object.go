package probe

import (
	"fmt"
	"regexp"
)

const (
	// MaxCounters bounds the straight-line work of one invocation.
	MaxCounters = 8
	// MaxNameLen is the kernel's BPF object name limit (BPF_OBJ_NAME_LEN - 1).
	MaxNameLen = 15
)

var nameRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

// CounterSpec declares a counter and the value it holds right after attach.
type CounterSpec struct {
	Name    string
	Initial uint64
}

// Object is the compiled description of a probe: everything a host needs to
// verify and attach it. It is built once and not mutated afterwards.
type Object struct {
	Name     string
	License  string
	Counters []CounterSpec
	Verdict  Verdict
	Trace    TraceSpec
}

// DefaultObject is the two-counter probe: counter starts at 0, counter2 at 1,
// every packet passes and tracing is off.
func DefaultObject() *Object {
	return &Object{
		Name:    "xdp_count",
		License: License,
		Counters: []CounterSpec{
			{Name: "counter", Initial: 0},
			{Name: "counter2", Initial: 1},
		},
		Verdict: Pass,
		Trace: TraceSpec{
			Enabled: false,
			Format:  "Hello World %d",
			Args:    []uint64{10},
		},
	}
}

// Validate performs the load-time checks a host applies before attaching.
func (o *Object) Validate() error {
	if err := ValidateLicense(o.License); err != nil {
		return err
	}

	if err := validateName(o.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrBadName, err)
	}

	if !o.Verdict.Valid() {
		return fmt.Errorf("%w: %d", ErrBadVerdict, uint32(o.Verdict))
	}

	if err := validateCounters(o.Counters); err != nil {
		return err
	}

	if o.Trace.Enabled {
		if err := o.Trace.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// CounterID returns the index of the counter called name.
func (o *Object) CounterID(name string) (CounterID, error) {
	for i, c := range o.Counters {
		if c.Name == name {
			return CounterID(i), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownCounter, name)
}

// CounterNames lists the declared counters in declaration order.
func (o *Object) CounterNames() []string {
	names := make([]string, 0, len(o.Counters))
	for _, c := range o.Counters {
		names = append(names, c.Name)
	}

	return names
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}

	if len(name) > MaxNameLen {
		return fmt.Errorf("%q is longer than %d bytes", name, MaxNameLen)
	}

	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%q must match %s", name, nameRegex)
	}

	return nil
}

func validateCounters(counters []CounterSpec) error {
	if len(counters) == 0 {
		return fmt.Errorf("%w: no counters declared", ErrBadCounter)
	}

	if len(counters) > MaxCounters {
		return fmt.Errorf("%w: %d counters declared, at most %d allowed", ErrBadCounter, len(counters), MaxCounters)
	}

	seen := make(map[string]struct{}, len(counters))

	for _, c := range counters {
		if err := validateName(c.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrBadCounter, err)
		}

		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("%w: %q declared twice", ErrBadCounter, c.Name)
		}

		seen[c.Name] = struct{}{}
	}

	return nil
}

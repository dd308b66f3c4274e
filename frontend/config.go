package frontend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tcassar-diss/xdpcount/bpf"
	"github.com/tcassar-diss/xdpcount/probe"
)

var ErrCfgInvalid = errors.New("invalid configuration")

// Duration lets TOML carry durations as strings, e.g. "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", text, err)
	}

	d.Duration = parsed

	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is everything xdpcount reads from its TOML file.
type Config struct {
	Interface    string        `toml:"interface"`
	Mode         bpf.Mode      `toml:"mode"`
	PinPath      string        `toml:"pin_path"`
	TracePipe    string        `toml:"trace_pipe"`
	PollInterval Duration      `toml:"poll_interval"`
	RecordPath   string        `toml:"record_path"`
	Probe        ProbeConfig   `toml:"probe"`
	Metrics      MetricsConfig `toml:"metrics"`
}

type ProbeConfig struct {
	Name     string          `toml:"name"`
	License  string          `toml:"license"`
	Verdict  probe.Verdict   `toml:"verdict"`
	Counters []CounterConfig `toml:"counters"`
	Trace    TraceConfig     `toml:"trace"`
}

type CounterConfig struct {
	Name    string `toml:"name"`
	Initial uint64 `toml:"initial"`
}

type TraceConfig struct {
	Enabled bool     `toml:"enabled"`
	Format  string   `toml:"format"`
	Args    []uint64 `toml:"args"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string `toml:"listen"`
}

// DefaultConfig runs the two-counter probe in generic mode, pinned under
// /sys/fs/bpf/xdpcount, with metrics disabled.
func DefaultConfig() *Config {
	obj := probe.DefaultObject()

	counters := make([]CounterConfig, 0, len(obj.Counters))
	for _, c := range obj.Counters {
		counters = append(counters, CounterConfig{Name: c.Name, Initial: c.Initial})
	}

	return &Config{
		Mode:         bpf.Generic,
		PinPath:      "/sys/fs/bpf/xdpcount",
		PollInterval: Duration{time.Second},
		Probe: ProbeConfig{
			Name:     obj.Name,
			License:  obj.License,
			Verdict:  obj.Verdict,
			Counters: counters,
			Trace: TraceConfig{
				Enabled: obj.Trace.Enabled,
				Format:  obj.Trace.Format,
				Args:    obj.Trace.Args,
			},
		},
	}
}

// LoadConfig reads path on top of DefaultConfig. Keys missing from the file
// keep their defaults; a counters table replaces the default counters.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	return DecodeConfig(f)
}

func DecodeConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	defaultCounters := cfg.Probe.Counters
	cfg.Probe.Counters = nil

	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if !md.IsDefined("probe", "counters") {
		cfg.Probe.Counters = defaultCounters
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrCfgInvalid, undecoded)
	}

	return cfg, nil
}

// Encode writes cfg as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Object builds the probe object the config describes.
func (c *Config) Object() *probe.Object {
	counters := make([]probe.CounterSpec, 0, len(c.Probe.Counters))
	for _, cc := range c.Probe.Counters {
		counters = append(counters, probe.CounterSpec{Name: cc.Name, Initial: cc.Initial})
	}

	return &probe.Object{
		Name:     c.Probe.Name,
		License:  c.Probe.License,
		Counters: counters,
		Verdict:  c.Probe.Verdict,
		Trace: probe.TraceSpec{
			Enabled: c.Probe.Trace.Enabled,
			Format:  c.Probe.Trace.Format,
			Args:    append([]uint64(nil), c.Probe.Trace.Args...),
		},
	}
}

// Validate checks the config and the probe object it describes. Interface is
// only required by commands that attach, so it is not checked here.
func (c *Config) Validate() error {
	switch c.Mode {
	case bpf.Generic, bpf.Driver, bpf.Offload:
	default:
		return fmt.Errorf("%w: mode %q (expected generic, driver or offload)", ErrCfgInvalid, c.Mode)
	}

	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrCfgInvalid)
	}

	if err := c.Object().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrCfgInvalid, err)
	}

	return nil
}

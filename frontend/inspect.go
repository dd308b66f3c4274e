package frontend

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tcassar-diss/xdpcount/bpf"
)

// CounterReport is what `xdpcount inspect` prints for one counter.
type CounterReport struct {
	Name   string   `json:"name"`
	Value  uint64   `json:"value"`
	PerCPU []uint64 `json:"per_cpu,omitempty"`
}

// Inspect reads the counters a running probe pinned under cfg.PinPath. Only
// names is looked up; nil means every counter the config declares.
func Inspect(cfg *Config, names []string, perCPU bool) ([]CounterReport, error) {
	declared := cfg.Object().CounterNames()

	c, err := bpf.OpenPinned(cfg.PinPath, declared)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if len(names) == 0 {
		names = declared
	}

	reports := make([]CounterReport, 0, len(names))

	for _, n := range names {
		r := CounterReport{Name: n}

		if perCPU {
			r.PerCPU, err = c.PerCPU(n)
			if err != nil {
				return nil, err
			}

			for _, v := range r.PerCPU {
				r.Value += v
			}
		} else {
			r.Value, err = c.Read(n)
			if err != nil {
				return nil, err
			}
		}

		reports = append(reports, r)
	}

	return reports, nil
}

// PrintJSON writes v as one line of JSON.
func PrintJSON(w io.Writer, v any) error {
	bts, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(bts))

	return err
}

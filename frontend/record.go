package frontend

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Recorder writes counter samples as CSV: a header of "time" plus the counter
// names, then one row per sample.
type Recorder struct {
	names  []string
	out    *csv.Writer
	header bool
}

func NewRecorder(names []string, outputDest io.Writer) *Recorder {
	return &Recorder{
		names: append([]string(nil), names...),
		out:   csv.NewWriter(outputDest),
	}
}

// Record writes one sample. Counters missing from snap are written as empty
// fields.
func (r *Recorder) Record(at time.Time, snap map[string]uint64) error {
	if !r.header {
		if err := r.out.Write(append([]string{"time"}, r.names...)); err != nil {
			return fmt.Errorf("failed to write record header: %w", err)
		}

		r.header = true
	}

	row := make([]string, 0, len(r.names)+1)
	row = append(row, at.UTC().Format(time.RFC3339Nano))

	for _, n := range r.names {
		v, ok := snap[n]
		if !ok {
			row = append(row, "")
			continue
		}

		row = append(row, strconv.FormatUint(v, 10))
	}

	if err := r.out.Write(row); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	r.out.Flush()

	return r.out.Error()
}

package bpf

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrTracePipeUnavailable = errors.New("no readable trace pipe found")

// TracePipePaths are tried in order when no explicit path is configured.
var TracePipePaths = []string{
	"/sys/kernel/tracing/trace_pipe",
	"/sys/kernel/debug/tracing/trace_pipe",
}

// TraceLineRegex matches lines bpf_trace_printk writes to the trace pipe:
//
//	<task>-<pid> [(<tgid>)] [<cpu>] <flags> <seconds>.<micros>: bpf_trace_printk: <message>
//
// Task is group 1, pid group 2, cpu group 3, timestamp group 4, message group 5.
var TraceLineRegex = regexp.MustCompile(
	`^\s*(.+)-(\d+)\s+(?:\(\s*[\d-]+\)\s+)?\[(\d+)\]\s+\S+\s+(\d+\.\d+):\s+bpf_trace_printk:\s(.*)$`,
)

// TraceLine is one record emitted by a probe, as read back from the pipe.
type TraceLine struct {
	Task      string
	PID       int
	CPU       int
	Timestamp time.Duration // since boot
	Message   string
}

// ParseTraceLine returns the parsed line, or false when l was not written by
// bpf_trace_printk.
func ParseTraceLine(l string) (*TraceLine, bool) {
	m := TraceLineRegex.FindStringSubmatch(l)
	if m == nil {
		return nil, false
	}

	pid, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}

	cpu, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, false
	}

	ts, err := parseTimestamp(m[4])
	if err != nil {
		return nil, false
	}

	return &TraceLine{
		Task:      m[1],
		PID:       pid,
		CPU:       cpu,
		Timestamp: ts,
		Message:   m[5],
	}, true
}

// parseTimestamp converts "<seconds>.<fraction>" without going through a float.
func parseTimestamp(s string) (time.Duration, error) {
	secs, frac, _ := strings.Cut(s, ".")

	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return 0, err
	}

	if len(frac) > 9 {
		frac = frac[:9]
	}

	frac += strings.Repeat("0", 9-len(frac))

	nsec, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}

	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}

// ScanTraceLines feeds every bpf_trace_printk line in r to handler, skipping
// anything else, until r is exhausted.
func ScanTraceLines(r io.Reader, handler func(*TraceLine)) error {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if tl, ok := ParseTraceLine(scanner.Text()); ok {
			handler(tl)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trace pipe: %w", err)
	}

	return nil
}

// TraceReader consumes the kernel trace pipe. Reading is destructive and the
// pipe is shared by every program on the host; the reader is best-effort and
// never affects the probe.
type TraceReader struct {
	logger *zap.SugaredLogger
	path   string
}

// NewTraceReader picks path, or the first readable entry of TracePipePaths
// when path is empty.
func NewTraceReader(logger *zap.SugaredLogger, path string) (*TraceReader, error) {
	candidates := TracePipePaths
	if path != "" {
		candidates = []string{path}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return &TraceReader{logger: logger, path: c}, nil
		}
	}

	return nil, fmt.Errorf("%w: tried %v", ErrTracePipeUnavailable, candidates)
}

func (r *TraceReader) Path() string {
	return r.path
}

// Run blocks, handing lines to handler until ctx is cancelled.
func (r *TraceReader) Run(ctx context.Context, handler func(*TraceLine)) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", r.path, err)
	}

	done := make(chan struct{})
	defer close(done)

	// a read on the pipe blocks until the next line; closing the file is the
	// only way to release it
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		f.Close()
	}()

	r.logger.Infow("reading probe traces", "path", r.path)

	err = ScanTraceLines(f, handler)
	if ctx.Err() != nil {
		r.logger.Infow("stopped reading probe traces: context cancelled")
		return nil
	}

	return err
}

package probe

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	// MaxTraceArgs is the argument limit of bpf_trace_printk.
	MaxTraceArgs = 3
	// MaxTraceFormat keeps the format buffer well inside the 512 byte BPF stack.
	MaxTraceFormat = 128
)

// TraceSpec declares the record a probe emits on every invocation.
type TraceSpec struct {
	Enabled bool
	Format  string
	Args    []uint64
}

// Validate checks the format the way the verifier checks a bpf_trace_printk
// format: only integer verbs, at most three of them, one arg per verb.
func (t TraceSpec) Validate() error {
	if t.Format == "" {
		return fmt.Errorf("%w: empty format", ErrBadTrace)
	}

	if len(t.Format) > MaxTraceFormat {
		return fmt.Errorf("%w: format is %d bytes, at most %d allowed", ErrBadTrace, len(t.Format), MaxTraceFormat)
	}

	if strings.ContainsRune(t.Format, 0) {
		return fmt.Errorf("%w: format contains a NUL byte", ErrBadTrace)
	}

	verbs, err := scanVerbs(t.Format)
	if err != nil {
		return err
	}

	if len(verbs) > MaxTraceArgs {
		return fmt.Errorf("%w: %d verbs, at most %d allowed", ErrBadTrace, len(verbs), MaxTraceArgs)
	}

	if len(verbs) != len(t.Args) {
		return fmt.Errorf("%w: %d verbs but %d args", ErrBadTrace, len(verbs), len(t.Args))
	}

	return nil
}

// Record returns the record emitted on every invocation.
func (t TraceSpec) Record() Record {
	return Record{Format: t.Format, Args: append([]uint64(nil), t.Args...)}
}

// Record is one structured trace line: a format and its scalar arguments.
// Records are shared between emitter and consumers and must not be mutated.
type Record struct {
	Format string
	Args   []uint64
}

// String renders the record the way bpf_trace_printk would print it.
func (r Record) String() string {
	var (
		b   strings.Builder
		arg int
	)

	f := r.Format
	for i := 0; i < len(f); i++ {
		if f[i] != '%' || i+1 == len(f) {
			b.WriteByte(f[i])
			continue
		}

		i++
		if f[i] == '%' {
			b.WriteByte('%')
			continue
		}

		long := 0
		for f[i] == 'l' && i+1 < len(f) {
			long++
			i++
		}

		if arg >= len(r.Args) {
			b.WriteString("%!")
			b.WriteByte(f[i])

			continue
		}

		v := r.Args[arg]
		arg++

		if long == 0 {
			v &= 0xffffffff
		}

		switch f[i] {
		case 'x':
			b.WriteString(strconv.FormatUint(v, 16))
		case 'u':
			b.WriteString(strconv.FormatUint(v, 10))
		default:
			if long == 0 {
				b.WriteString(strconv.FormatInt(int64(int32(uint32(v))), 10))
			} else {
				b.WriteString(strconv.FormatInt(int64(v), 10))
			}
		}
	}

	return b.String()
}

// Tracer is the host-provided trace channel. Emit must never block and never
// report failure; delivery is best-effort.
type Tracer interface {
	Emit(Record)
}

// ChanTracer buffers records for a reader. When the buffer is full, records
// are dropped and counted instead of blocking the probe.
type ChanTracer struct {
	ch      chan Record
	dropped atomic.Uint64
}

func NewChanTracer(size int) *ChanTracer {
	return &ChanTracer{ch: make(chan Record, size)}
}

func (t *ChanTracer) Emit(r Record) {
	select {
	case t.ch <- r:
	default:
		t.dropped.Add(1)
	}
}

// Records is the consumer side of the channel.
func (t *ChanTracer) Records() <-chan Record {
	return t.ch
}

// Dropped reports how many records were discarded because the buffer was full.
func (t *ChanTracer) Dropped() uint64 {
	return t.dropped.Load()
}

// scanVerbs returns the conversion character of every verb in format.
func scanVerbs(format string) ([]byte, error) {
	var verbs []byte

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		i++
		if i == len(format) {
			return nil, fmt.Errorf("%w: dangling %% at end of format", ErrBadTrace)
		}

		if format[i] == '%' {
			continue
		}

		for n := 0; n < 2 && i < len(format) && format[i] == 'l'; n++ {
			i++
		}

		if i == len(format) {
			return nil, fmt.Errorf("%w: dangling length modifier at end of format", ErrBadTrace)
		}

		switch format[i] {
		case 'd', 'i', 'u', 'x':
			verbs = append(verbs, format[i])
		default:
			return nil, fmt.Errorf("%w: unsupported verb %%%c", ErrBadTrace, format[i])
		}
	}

	return verbs, nil
}

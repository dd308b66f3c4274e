package probe_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpcount/probe"
)

func TestTraceSpec_Validate(t *testing.T) {
	tests := []struct {
		name   string
		format string
		args   []uint64
		err    error
	}{
		{name: "no verbs", format: "xxxxx yyyyy"},
		{name: "one verb", format: "Hello World %d", args: []uint64{10}},
		{name: "length modifiers", format: "%lu %llx %i", args: []uint64{1, 2, 3}},
		{name: "escaped percent", format: "100%% of %u", args: []uint64{4}},
		{name: "empty", format: "", err: probe.ErrBadTrace},
		{name: "string verb", format: "%s", args: []uint64{1}, err: probe.ErrBadTrace},
		{name: "arity mismatch", format: "%d %d", args: []uint64{1}, err: probe.ErrBadTrace},
		{name: "too many verbs", format: "%d %d %d %d", args: []uint64{1, 2, 3, 4}, err: probe.ErrBadTrace},
		{name: "dangling percent", format: "oops %", err: probe.ErrBadTrace},
		{name: "dangling modifier", format: "oops %ll", err: probe.ErrBadTrace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := probe.TraceSpec{Enabled: true, Format: tt.format, Args: tt.args}.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRecord_String(t *testing.T) {
	tests := []struct {
		record   probe.Record
		expected string
	}{
		{record: probe.Record{Format: "Hello World %d", Args: []uint64{10}}, expected: "Hello World 10"},
		{record: probe.Record{Format: "xxxxx yyyyy"}, expected: "xxxxx yyyyy"},
		{record: probe.Record{Format: "%x/%u", Args: []uint64{255, 7}}, expected: "ff/7"},
		{record: probe.Record{Format: "%d", Args: []uint64{0xffffffff}}, expected: "-1"},
		{record: probe.Record{Format: "%lld", Args: []uint64{0xffffffff}}, expected: "4294967295"},
		{record: probe.Record{Format: "50%%"}, expected: "50%"},
		{record: probe.Record{Format: "%d"}, expected: "%!d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.record.String())
		})
	}
}

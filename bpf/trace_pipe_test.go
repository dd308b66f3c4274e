package bpf_test

import (
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpcount/bpf"
	"go.uber.org/zap"
)

func TestScanTraceLines(t *testing.T) {
	type testcase struct {
		filepath string
		lines    []bpf.TraceLine
	}

	cwd, err := os.Getwd()
	require.NoError(t, err)

	testTraceRoot := path.Join(cwd, "../test-resources/trace_pipe")

	cases := []testcase{
		{
			filepath: path.Join(testTraceRoot, "1"),
			lines: []bpf.TraceLine{
				{Task: "<idle>", PID: 0, CPU: 3, Timestamp: 12345*time.Second + 678901*time.Microsecond, Message: "Hello World 10"},
				{Task: "<idle>", PID: 0, CPU: 3, Timestamp: 12345*time.Second + 678950*time.Microsecond, Message: "xxxxx yyyyy"},
				{Task: "ping", PID: 4242, CPU: 1, Timestamp: 5678*time.Second + 123456*time.Microsecond, Message: "Hello World 10"},
				{Task: "kworker/u16:3", PID: 88, CPU: 0, Timestamp: 42*time.Second + time.Microsecond, Message: "counter=7"},
			},
		},
		{
			filepath: path.Join(testTraceRoot, "2"),
			lines:    nil,
		},
	}

	for _, c := range cases {
		t.Run(c.filepath, func(t *testing.T) {
			f, err := os.Open(c.filepath)
			require.NoError(t, err)
			defer f.Close()

			var got []bpf.TraceLine
			require.NoError(t, bpf.ScanTraceLines(f, func(tl *bpf.TraceLine) {
				got = append(got, *tl)
			}))

			require.Equal(t, c.lines, got)
		})
	}
}

func TestParseTraceLine_Rejects(t *testing.T) {
	for _, l := range []string{
		"",
		"# tracer: nop",
		"            sshd-900     [002] ....1   77.500000: sys_enter: NR 0",
	} {
		_, ok := bpf.ParseTraceLine(l)
		require.False(t, ok, l)
	}
}

func TestNewTraceReader(t *testing.T) {
	logger := zap.NewNop().Sugar()

	_, err := bpf.NewTraceReader(logger, path.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, bpf.ErrTracePipeUnavailable)

	fixture := path.Join(t.TempDir(), "trace_pipe")
	require.NoError(t, os.WriteFile(fixture, []byte(
		"          <idle>-0       [003] d.s.. 1.000000: bpf_trace_printk: Hello World 10\n",
	), 0o600))

	r, err := bpf.NewTraceReader(logger, fixture)
	require.NoError(t, err)
	require.Equal(t, fixture, r.Path())

	var got []string
	require.NoError(t, r.Run(context.Background(), func(tl *bpf.TraceLine) {
		got = append(got, tl.Message)
	}))

	require.Equal(t, []string{"Hello World 10"}, got)
}

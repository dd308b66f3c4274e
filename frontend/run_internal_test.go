package frontend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpcount/hook"
	"github.com/tcassar-diss/xdpcount/probe"
	"go.uber.org/zap"
)

// fakeCounters fails its first read and reports an increasing counter after.
type fakeCounters struct {
	calls atomic.Uint64
}

func (f *fakeCounters) Snapshot() (map[string]uint64, error) {
	n := f.calls.Add(1)
	if n == 1 {
		return nil, errors.New("map busy")
	}

	return map[string]uint64{"counter": n}, nil
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestPoll_RecordsUntilCancelled(t *testing.T) {
	var (
		buf bytes.Buffer
		fc  fakeCounters
	)

	rec := NewRecorder([]string{"counter"}, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- poll(ctx, zap.NewNop().Sugar(), &fc, 5*time.Millisecond, rec)
	}()

	require.Eventually(t, func() bool {
		return fc.calls.Load() >= 4
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, "time,counter", lines[0])

	// the failed first read is skipped, every later one is recorded
	require.Len(t, lines, int(fc.calls.Load()))
	require.True(t, strings.HasSuffix(lines[1], ",2"), lines[1])
}

func TestPoll_FailsWhenRecordingFails(t *testing.T) {
	var fc fakeCounters
	fc.calls.Store(1)

	rec := NewRecorder([]string{"counter"}, failingWriter{})

	err := poll(context.Background(), zap.NewNop().Sugar(), &fc, time.Millisecond, rec)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestServeMetrics(t *testing.T) {
	logger := zap.NewNop().Sugar()

	a, err := hook.NewHost(logger, nil).Attach(probe.DefaultObject())
	require.NoError(t, err)

	_, err = a.Deliver(make([]probe.Packet, 3)...)
	require.NoError(t, err)

	reg, err := NewRegistry(logger, a, "xdp_count")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- serveMetrics(ctx, logger, ln, reg)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `xdpcount_counter{counter="counter",probe="xdp_count"} 3`)
	require.Contains(t, string(body), `xdpcount_counter{counter="counter2",probe="xdp_count"} 4`)

	cancel()
	require.NoError(t, <-done)
}

func TestServeMetrics_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	reg, err := NewRegistry(zap.NewNop().Sugar(), probe.NewStore(probe.DefaultObject().Counters), "xdp_count")
	require.NoError(t, err)

	err = ServeMetrics(context.Background(), zap.NewNop().Sugar(), ln.Addr().String(), reg)
	require.Error(t, err)
}

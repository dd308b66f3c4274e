package frontend_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpcount/frontend"
)

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer

	rec := frontend.NewRecorder([]string{"counter", "counter2"}, &buf)
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Record(at, map[string]uint64{"counter": 5, "counter2": 6}))
	require.NoError(t, rec.Record(at.Add(time.Second), map[string]uint64{"counter": 7}))

	require.Equal(t,
		"time,counter,counter2\n"+
			"2026-10-19T12:00:00Z,5,6\n"+
			"2026-10-19T12:00:01Z,7,\n",
		buf.String(),
	)
}

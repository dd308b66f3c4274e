package frontend_test

import (
	"bytes"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpcount/bpf"
	"github.com/tcassar-diss/xdpcount/frontend"
	"github.com/tcassar-diss/xdpcount/probe"
)

func configRoot(t *testing.T) string {
	t.Helper()

	cwd, err := os.Getwd()
	require.NoError(t, err)

	return path.Join(cwd, "../test-resources/config")
}

func TestLoadConfig(t *testing.T) {
	cfg, err := frontend.LoadConfig(path.Join(configRoot(t), "xdpcount.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "eth0", cfg.Interface)
	require.Equal(t, bpf.Driver, cfg.Mode)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval.Duration)
	require.Equal(t, "/tmp/xdpcount.csv", cfg.RecordPath)
	require.Equal(t, "127.0.0.1:9435", cfg.Metrics.Listen)

	// untouched keys keep their defaults
	require.Equal(t, "/sys/fs/bpf/xdpcount", cfg.PinPath)

	obj := cfg.Object()
	require.Equal(t, "xdp_count", obj.Name)
	require.Equal(t, probe.License, obj.License)
	require.Equal(t, probe.Drop, obj.Verdict)
	require.Equal(t, []probe.CounterSpec{
		{Name: "seen", Initial: 0},
		{Name: "seen_plus_one", Initial: 1},
		{Name: "from_ten", Initial: 10},
	}, obj.Counters)
	require.Equal(t, probe.TraceSpec{Enabled: true, Format: "xdpcount %d/%u", Args: []uint64{1, 2}}, obj.Trace)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := frontend.LoadConfig(path.Join(configRoot(t), "unknown_key.toml"))
	require.ErrorIs(t, err, frontend.ErrCfgInvalid)

	cfg, err := frontend.LoadConfig(path.Join(configRoot(t), "bad_mode.toml"))
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), frontend.ErrCfgInvalid)

	_, err = frontend.LoadConfig(path.Join(configRoot(t), "missing.toml"))
	require.Error(t, err)
}

func TestDecodeConfig(t *testing.T) {
	tests := []struct {
		name      string
		toml      string
		decodeErr bool
		err       error
	}{
		{name: "empty keeps defaults", toml: ""},
		{name: "bad verdict", toml: "[probe]\nverdict = \"reject\"\n", decodeErr: true},
		{name: "bad duration", toml: "poll_interval = \"soon\"\n", decodeErr: true},
		{name: "proprietary license", toml: "[probe]\nlicense = \"Proprietary\"\n", err: probe.ErrLicenseRejected},
		{name: "zero interval", toml: "poll_interval = \"0s\"\n", err: frontend.ErrCfgInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := frontend.DecodeConfig(strings.NewReader(tt.toml))
			if tt.decodeErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)

			err = cfg.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				require.Equal(t, probe.DefaultObject(), cfg.Object())

				return
			}

			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestConfig_EncodeRoundTrip(t *testing.T) {
	cfg := frontend.DefaultConfig()
	cfg.Interface = "lo"

	var buf bytes.Buffer
	require.NoError(t, cfg.Encode(&buf))

	decoded, err := frontend.DecodeConfig(&buf)
	require.NoError(t, err)
	require.Equal(t, cfg, decoded)
}

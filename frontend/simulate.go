package frontend

import (
	"context"
	"fmt"

	"github.com/tcassar-diss/xdpcount/bpf"
	"github.com/tcassar-diss/xdpcount/hook"
	"github.com/tcassar-diss/xdpcount/probe"
	"go.uber.org/zap"
)

// SimulationResult reports a run of the probe on the in-process host or
// through BPF_PROG_TEST_RUN.
type SimulationResult struct {
	Packets       int               `json:"packets"`
	Counters      map[string]uint64 `json:"counters"`
	Verdicts      map[string]int    `json:"verdicts"`
	TracesDropped uint64            `json:"traces_dropped,omitempty"`
}

// Simulate attaches the configured probe to an in-process hook, delivers
// packets empty packets over workers goroutines and detaches again. It needs
// no privileges.
func Simulate(ctx context.Context, logger *zap.SugaredLogger, cfg *Config, packets, workers int) (*SimulationResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if packets < 0 {
		return nil, fmt.Errorf("%w: cannot deliver %d packets", ErrCfgInvalid, packets)
	}

	tracer := probe.NewChanTracer(256)
	host := hook.NewHost(logger, tracer)

	a, err := host.Attach(cfg.Object())
	if err != nil {
		return nil, fmt.Errorf("failed to attach probe: %w", err)
	}
	defer a.Detach()

	traceCtx, stopTraces := context.WithCancel(ctx)
	tracesDone := make(chan struct{})

	go func() {
		defer close(tracesDone)
		hook.LogTraces(traceCtx, logger, tracer.Records())
	}()

	verdicts, err := a.DeliverConcurrent(ctx, workers, make([]probe.Packet, packets))

	stopTraces()
	<-tracesDone

	if err != nil {
		return nil, err
	}

	snap, err := a.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	tally := make(map[string]int)
	for _, v := range verdicts {
		tally[v.String()]++
	}

	return &SimulationResult{
		Packets:       packets,
		Counters:      snap,
		Verdicts:      tally,
		TracesDropped: tracer.Dropped(),
	}, nil
}

// SelfTest loads the configured probe into the kernel without attaching it
// and runs it packets times over an empty Ethernet frame. Needs root.
func SelfTest(logger *zap.SugaredLogger, cfg *Config, packets uint32) (*SimulationResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// the kernel runs a program once for a repeat of zero
	packets = max(packets, 1)

	p, err := bpf.LoadProbe(logger, cfg.Object(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load probe: %w", err)
	}
	defer p.Close()

	verdict, err := p.TestRun(make([]byte, 64), packets)
	if err != nil {
		return nil, err
	}

	snap, err := p.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	return &SimulationResult{
		Packets:  int(packets),
		Counters: snap,
		Verdicts: map[string]int{verdict.String(): int(packets)},
	}, nil
}

package bpf_test

import (
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpcount/bpf"
	"github.com/tcassar-diss/xdpcount/probe"
)

func countCalls(insns asm.Instructions, fn asm.BuiltinFunc) int {
	var n int
	for _, ins := range insns {
		if ins.IsBuiltinCall() && ins.Constant == int64(fn) {
			n++
		}
	}

	return n
}

func TestNewCollectionSpec(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(o *probe.Object)
		lookups int
		traces  int
		verdict probe.Verdict
	}{
		{
			name:    "default",
			modify:  func(o *probe.Object) {},
			lookups: 2,
			verdict: probe.Pass,
		},
		{
			name: "single counter",
			modify: func(o *probe.Object) {
				o.Counters = o.Counters[:1]
			},
			lookups: 1,
			verdict: probe.Pass,
		},
		{
			name: "traced drop",
			modify: func(o *probe.Object) {
				o.Verdict = probe.Drop
				o.Trace.Enabled = true
			},
			lookups: 2,
			traces:  1,
			verdict: probe.Drop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := probe.DefaultObject()
			tt.modify(obj)

			spec, err := bpf.NewCollectionSpec(obj)
			require.NoError(t, err)

			m := spec.Maps[bpf.CounterMapName]
			require.NotNil(t, m)
			require.Equal(t, ebpf.PerCPUArray, m.Type)
			require.Equal(t, uint32(4), m.KeySize)
			require.Equal(t, uint32(8), m.ValueSize)
			require.Equal(t, uint32(len(obj.Counters)), m.MaxEntries)

			prog := spec.Programs[obj.Name]
			require.NotNil(t, prog)
			require.Equal(t, ebpf.XDP, prog.Type)
			require.Equal(t, probe.License, prog.License)

			insns := prog.Instructions
			require.Equal(t, tt.lookups, countCalls(insns, asm.FnMapLookupElem))
			require.Equal(t, tt.traces, countCalls(insns, asm.FnTracePrintk))

			last := insns[len(insns)-1]
			require.Equal(t, asm.Exit, last.OpCode.JumpOp())

			verdict := insns[len(insns)-2]
			require.Equal(t, "verdict", verdict.Symbol())
			require.Equal(t, int64(tt.verdict), verdict.Constant)

			var mapRefs int
			for _, ins := range insns {
				if ins.IsLoadFromMap() {
					require.Equal(t, bpf.CounterMapName, ins.Reference())
					mapRefs++
				}

				// straight-line code: every jump is a forward reference
				if ins.OpCode.Class().IsJump() && ins.OpCode.JumpOp() != asm.Call && ins.OpCode.JumpOp() != asm.Exit {
					require.NotEmpty(t, ins.Reference())
				}
			}

			require.Equal(t, tt.lookups, mapRefs)
		})
	}
}

func TestNewCollectionSpec_Rejects(t *testing.T) {
	obj := probe.DefaultObject()
	obj.License = ""

	_, err := bpf.NewCollectionSpec(obj)
	require.ErrorIs(t, err, probe.ErrLicenseMissing)
}

func TestNewCollectionSpec_LargestProbeFitsBudget(t *testing.T) {
	obj := probe.DefaultObject()
	obj.Counters = make([]probe.CounterSpec, probe.MaxCounters)
	for i := range obj.Counters {
		obj.Counters[i].Name = string(rune('a' + i))
	}

	obj.Trace = probe.TraceSpec{Enabled: true, Args: []uint64{1, 2, 3}}
	for len(obj.Trace.Format) < probe.MaxTraceFormat-6 {
		obj.Trace.Format += "x"
	}
	obj.Trace.Format += "%d%d%d"

	spec, err := bpf.NewCollectionSpec(obj)
	require.NoError(t, err)

	var slots int
	for _, ins := range spec.Programs[obj.Name].Instructions {
		slots += ins.Size() / asm.InstructionSize
	}

	require.LessOrEqual(t, slots, bpf.MaxInstructions)
}

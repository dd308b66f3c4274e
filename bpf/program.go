package bpf

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/tcassar-diss/xdpcount/probe"
)

const (
	// CounterMapName is the name of the per-CPU array holding the counters,
	// both in the collection and under the pin path.
	CounterMapName = "counters"

	// MaxInstructions is the budget enforced before the program ever reaches
	// the verifier. It counts raw instruction slots.
	MaxInstructions = 256

	keyOffset int16 = -8
)

// NewCollectionSpec assembles obj into a collection holding the XDP program
// (keyed by obj.Name) and its counter map.
func NewCollectionSpec(obj *probe.Object) (*ebpf.CollectionSpec, error) {
	if err := obj.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate probe object: %w", err)
	}

	insns, err := assemble(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble probe %s: %w", obj.Name, err)
	}

	return &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			CounterMapName: counterMapSpec(len(obj.Counters)),
		},
		Programs: map[string]*ebpf.ProgramSpec{
			obj.Name: {
				Name:         obj.Name,
				Type:         ebpf.XDP,
				License:      obj.License,
				Instructions: insns,
			},
		},
	}, nil
}

// counterMapSpec gives every CPU its own slot per counter, so concurrent
// invocations never race on an increment. Readers sum the slots.
func counterMapSpec(n int) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       CounterMapName,
		Type:       ebpf.PerCPUArray,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: uint32(n),
	}
}

// assemble emits straight-line code: optional trace, one guarded increment
// per counter, then the verdict. Every jump goes forward.
func assemble(obj *probe.Object) (asm.Instructions, error) {
	var insns asm.Instructions

	if obj.Trace.Enabled {
		insns = append(insns, traceInstructions(obj.Trace)...)
	}

	for i := range obj.Counters {
		next := "verdict"
		if i+1 < len(obj.Counters) {
			next = counterLabel(i + 1)
		}

		block := incrementInstructions(i, next)
		if i > 0 {
			block[0] = block[0].WithSymbol(counterLabel(i))
		}

		insns = append(insns, block...)
	}

	insns = append(insns,
		asm.Mov.Imm(asm.R0, int32(obj.Verdict)).WithSymbol("verdict"),
		asm.Return(),
	)

	if n := rawLen(insns); n > MaxInstructions {
		return nil, fmt.Errorf("%w: %d > %d", ErrProgramTooLarge, n, MaxInstructions)
	}

	return insns, nil
}

func counterLabel(idx int) string {
	return fmt.Sprintf("counter_%d", idx)
}

// incrementInstructions bumps the calling CPU's slot of counter idx by one.
// A failed lookup cannot happen for an in-range key, but the verifier insists
// on the null check; it jumps to next.
func incrementInstructions(idx int, next string) asm.Instructions {
	return asm.Instructions{
		asm.StoreImm(asm.RFP, keyOffset, int64(idx), asm.Word),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(keyOffset)),
		asm.LoadMapPtr(asm.R1, 0).WithReference(CounterMapName),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, next),
		asm.LoadMem(asm.R1, asm.R0, 0, asm.DWord),
		asm.Add.Imm(asm.R1, 1),
		asm.StoreMem(asm.R0, 0, asm.R1, asm.DWord),
	}
}

// traceInstructions copies the NUL-terminated format onto the stack below the
// key slot and calls bpf_trace_printk with the args as immediates.
func traceInstructions(t probe.TraceSpec) asm.Instructions {
	buf := make([]byte, (len(t.Format)+1+7)&^7)
	copy(buf, t.Format)

	base := keyOffset - int16(len(buf))

	var insns asm.Instructions

	for off := 0; off < len(buf); off += 8 {
		chunk := binary.NativeEndian.Uint64(buf[off : off+8])
		insns = append(insns,
			asm.LoadImm(asm.R1, int64(chunk), asm.DWord),
			asm.StoreMem(asm.RFP, base+int16(off), asm.R1, asm.DWord),
		)
	}

	insns = append(insns,
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, int32(base)),
		asm.Mov.Imm(asm.R2, int32(len(t.Format)+1)),
	)

	argRegs := []asm.Register{asm.R3, asm.R4, asm.R5}
	for i, arg := range t.Args {
		insns = append(insns, asm.LoadImm(argRegs[i], int64(arg), asm.DWord))
	}

	return append(insns, asm.FnTracePrintk.Call())
}

func rawLen(insns asm.Instructions) int {
	var size int
	for _, ins := range insns {
		size += ins.Size()
	}

	return size / asm.InstructionSize
}

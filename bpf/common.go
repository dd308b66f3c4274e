package bpf

import "errors"

var (
	ErrProgramTooLarge  = errors.New("probe program exceeds instruction budget")
	ErrBadAttachMode    = errors.New("unsupported XDP attach mode")
	ErrAlreadyAttached  = errors.New("probe already attached")
	ErrNotAttached      = errors.New("probe not attached")
	ErrCounterMapAbsent = errors.New("counter map missing from collection")
	ErrProgramAbsent    = errors.New("probe program missing from collection")
	ErrPinExists        = errors.New("counter map already pinned")
)

// Mode selects how the XDP program is attached to the interface.
type Mode string

const (
	// Generic runs the program in the kernel's generic (skb) XDP path; works on any interface.
	Generic Mode = "generic"
	// Driver runs the program in the NIC driver, before skb allocation.
	Driver Mode = "driver"
	// Offload runs the program on the NIC itself.
	Offload Mode = "offload"
)

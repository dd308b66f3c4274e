// Package probe holds the counting probe itself: the counters it owns, the
// verdict it returns and the trace records it emits.
//
// A Probe is a pure function of (counters, packet) -> verdict. It never
// drives itself; a host (the kernel, or the simulated host in package hook)
// invokes Probe.Handle once per packet. The same Object is assembled into an
// XDP program by package bpf, so both renditions share one description.
package probe

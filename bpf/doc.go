// Package bpf provides the kernelspace rendition of the counting probe.
//
// NewCollectionSpec assembles a probe.Object into an XDP program (no C
// toolchain involved) plus the per-CPU array holding its counters. LoadProbe
// hands that collection to the kernel, whose verifier is the load-time
// rejection point, and Probe.Attach links it to an interface.
//
// This package is intended as an interface to kernelspace, without containing
// orchestration logic; see package frontend for that.
package bpf

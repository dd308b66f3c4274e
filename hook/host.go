// Package hook is an in-process host for a probe: it plays the part the
// kernel plays for the XDP program. It verifies a probe object at load time,
// owns the counters for the lifetime of one attachment and drives the probe
// once per delivered packet.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tcassar-diss/xdpcount/probe"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyAttached = errors.New("a probe is already attached to this hook")
	ErrDetached        = errors.New("probe is detached")
	ErrVerifyFailed    = errors.New("probe failed load-time verification")
)

// Host is a single hook point. At most one probe is attached at a time.
type Host struct {
	logger *zap.SugaredLogger
	tracer probe.Tracer

	mu       sync.Mutex
	attached *Attachment
}

// NewHost creates a hook. tracer is the trace channel handed to attached
// probes and may be nil.
func NewHost(logger *zap.SugaredLogger, tracer probe.Tracer) *Host {
	return &Host{
		logger: logger,
		tracer: tracer,
	}
}

// Attach verifies obj and, on success, starts running it with a fresh
// Counter Store initialised from the object's declarations.
func (h *Host) Attach(obj *probe.Object) (*Attachment, error) {
	if err := obj.Validate(); err != nil {
		h.logger.Warnw("refusing to attach probe", "probe", obj.Name, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrVerifyFailed, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.attached != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, h.attached.name)
	}

	store := probe.NewStore(obj.Counters)

	p, err := probe.New(obj, store, h.tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to bind probe to counter store: %w", err)
	}

	a := &Attachment{
		host:  h,
		name:  obj.Name,
		probe: p,
		store: store,
	}
	h.attached = a

	h.logger.Infow("probe attached",
		"probe", obj.Name,
		"license", obj.License,
		"verdict", obj.Verdict,
		"counters", obj.CounterNames(),
		"trace", obj.Trace.Enabled,
	)

	return a, nil
}

// Attached returns the current attachment, or nil.
func (h *Host) Attached() *Attachment {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.attached
}

// Attachment is a probe running on a Host. Its counters live exactly as long
// as the attachment.
type Attachment struct {
	host     *Host
	name     string
	probe    *probe.Probe
	store    *probe.Store
	detached atomic.Bool
}

// Deliver invokes the probe once per packet, in order, on the calling
// goroutine.
func (a *Attachment) Deliver(pkts ...probe.Packet) ([]probe.Verdict, error) {
	if a.detached.Load() {
		return nil, ErrDetached
	}

	verdicts := make([]probe.Verdict, len(pkts))
	for i, pkt := range pkts {
		verdicts[i] = a.probe.Handle(pkt)
	}

	return verdicts, nil
}

// DeliverConcurrent spreads pkts over workers goroutines, the way packets
// arriving on several cores reach the same hook. verdicts[i] is the verdict
// for pkts[i].
func (a *Attachment) DeliverConcurrent(ctx context.Context, workers int, pkts []probe.Packet) ([]probe.Verdict, error) {
	if a.detached.Load() {
		return nil, ErrDetached
	}

	if workers < 1 {
		workers = 1
	}

	verdicts := make([]probe.Verdict, len(pkts))

	eg, egCtx := errgroup.WithContext(ctx)
	for w := range workers {
		eg.Go(func() error {
			for i := w; i < len(pkts); i += workers {
				if err := egCtx.Err(); err != nil {
					return err
				}

				verdicts[i] = a.probe.Handle(pkts[i])
			}

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return verdicts, fmt.Errorf("packet delivery interrupted: %w", err)
	}

	return verdicts, nil
}

// Read returns the counter called name. Reads are weakly consistent while
// packets are being delivered.
func (a *Attachment) Read(name string) (uint64, error) {
	if a.detached.Load() {
		return 0, ErrDetached
	}

	return a.store.Read(name)
}

func (a *Attachment) Names() []string {
	return a.store.Names()
}

func (a *Attachment) Snapshot() (map[string]uint64, error) {
	if a.detached.Load() {
		return nil, ErrDetached
	}

	return a.store.Snapshot(), nil
}

// Detach unloads the probe. Its counters are gone afterwards; a later Attach
// starts again from the declared initial values.
func (a *Attachment) Detach() error {
	if !a.detached.CompareAndSwap(false, true) {
		return ErrDetached
	}

	a.host.mu.Lock()
	if a.host.attached == a {
		a.host.attached = nil
	}
	a.host.mu.Unlock()

	a.host.logger.Infow("probe detached", "probe", a.name)

	return nil
}

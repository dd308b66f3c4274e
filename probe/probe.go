package probe

import "fmt"

// Packet is the opaque handle a host passes to each invocation. The probe
// never inspects it.
type Packet []byte

// Probe is the per-packet entry point. It owns no state of its own; the
// counters live in the injected Store.
type Probe struct {
	store   *Store
	ids     []CounterID
	verdict Verdict
	tracer  Tracer
	record  Record
}

// New binds obj to store. tracer may be nil; it is ignored when obj has
// tracing disabled.
func New(obj *Object, store *Store, tracer Tracer) (*Probe, error) {
	if err := obj.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate probe object: %w", err)
	}

	if store.Len() != len(obj.Counters) {
		return nil, fmt.Errorf("%w: object declares %d counters, store holds %d",
			ErrStoreMismatch, len(obj.Counters), store.Len())
	}

	p := &Probe{
		store:   store,
		ids:     make([]CounterID, len(obj.Counters)),
		verdict: obj.Verdict,
	}

	names := store.Names()
	for i, c := range obj.Counters {
		if names[i] != c.Name {
			return nil, fmt.Errorf("%w: counter %d is %q in the object but %q in the store",
				ErrStoreMismatch, i, c.Name, names[i])
		}

		p.ids[i] = CounterID(i)
	}

	if obj.Trace.Enabled && tracer != nil {
		p.tracer = tracer
		p.record = obj.Trace.Record()
	}

	return p, nil
}

// Handle processes one packet: emit the trace record, bump every counter by
// exactly one and return the fixed verdict. It does a constant amount of work
// and cannot fail.
func (p *Probe) Handle(_ Packet) Verdict {
	if p.tracer != nil {
		p.tracer.Emit(p.record)
	}

	for _, id := range p.ids {
		p.store.Increment(id)
	}

	return p.verdict
}

func (p *Probe) Store() *Store {
	return p.store
}

package bpf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/tcassar-diss/xdpcount/probe"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// LoadOpts configures how the probe's collection is loaded.
type LoadOpts struct {
	// PinPath, when set, pins the counter map under this bpffs directory so
	// an inspector in another process can read it.
	PinPath string
}

// Probe is the loaded kernel program plus its counter map.
type Probe struct {
	logger   *zap.SugaredLogger
	obj      *probe.Object
	coll     *ebpf.Collection
	prog     *ebpf.Program
	counters *Counters
	pinned   bool
	xdp      link.Link
}

// LoadProbe assembles obj, loads it into the kernel and resets its counters to
// their initial values. Verifier and license rejections surface here, before
// anything is attached.
func LoadProbe(logger *zap.SugaredLogger, obj *probe.Object, opts *LoadOpts) (*Probe, error) {
	spec, err := NewCollectionSpec(obj)
	if err != nil {
		return nil, err
	}

	pinned := opts != nil && opts.PinPath != ""
	if pinned {
		if err := checkPinFree(opts.PinPath); err != nil {
			return nil, err
		}
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("failed to remove memlock rlimit: %w", err)
	}

	var collOpts ebpf.CollectionOptions

	if pinned {
		if err := os.MkdirAll(opts.PinPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create pin path %s: %w", opts.PinPath, err)
		}

		spec.Maps[CounterMapName].Pinning = ebpf.PinByName
		collOpts.Maps.PinPath = opts.PinPath
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, collOpts)
	if err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			logger.Errorw("verifier rejected probe", "probe", obj.Name, "log", fmt.Sprintf("%+v", ve))
		}

		return nil, fmt.Errorf("failed to load probe %s: %w", obj.Name, err)
	}

	p := &Probe{
		logger: logger,
		obj:    obj,
		coll:   coll,
		pinned: pinned,
	}

	p.prog = coll.Programs[obj.Name]
	if p.prog == nil {
		coll.Close()
		return nil, fmt.Errorf("%w: %s", ErrProgramAbsent, obj.Name)
	}

	m := coll.Maps[CounterMapName]
	if m == nil {
		coll.Close()
		return nil, ErrCounterMapAbsent
	}

	p.counters = newCounters(m, obj.Counters)

	if err := p.counters.Reset(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to initialise counters: %w", err)
	}

	logger.Infow("probe loaded",
		"probe", obj.Name,
		"license", obj.License,
		"counters", obj.CounterNames(),
		"trace", obj.Trace.Enabled,
		"pinned", pinned,
	)

	return p, nil
}

// checkPinFree refuses a pin path that already holds a counter map. PinByName
// would otherwise adopt it, sharing counters with whichever probe left it.
func checkPinFree(pinPath string) error {
	path := filepath.Join(pinPath, CounterMapName)

	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("%w: %s (another xdpcount running, or left over from a crash; remove it to continue)", ErrPinExists, path)
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check pin path %s: %w", path, err)
	}

	return nil
}

// Attach resets the counters and links the program to the XDP hook of the
// named interface.
func (p *Probe) Attach(ifaceName string, mode Mode) error {
	if p.xdp != nil {
		return ErrAlreadyAttached
	}

	var flags link.XDPAttachFlags

	switch mode {
	case Generic, "":
		flags = link.XDPGenericMode
	case Driver:
		flags = link.XDPDriverMode
	case Offload:
		flags = link.XDPOffloadMode
	default:
		return fmt.Errorf("%w: %s", ErrBadAttachMode, mode)
	}

	iface, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("failed to look up interface %q: %w", ifaceName, err)
	}

	ifindex := iface.Attrs().Index

	// counters belong to the attachment: every attach starts from the
	// declared initial values
	if err := p.counters.Reset(); err != nil {
		return fmt.Errorf("failed to reset counters: %w", err)
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   p.prog,
		Interface: ifindex,
		Flags:     flags,
	})
	if err != nil {
		return fmt.Errorf("failed to attach to XDP on %s: %w", ifaceName, err)
	}

	p.xdp = l

	p.logger.Infow("probe attached", "probe", p.obj.Name, "iface", ifaceName, "ifindex", ifindex, "mode", mode)

	return nil
}

// Detach removes the program from the interface but keeps it loaded.
func (p *Probe) Detach() error {
	if p.xdp == nil {
		return ErrNotAttached
	}

	err := p.xdp.Close()
	p.xdp = nil

	if err != nil {
		return fmt.Errorf("failed to detach probe: %w", err)
	}

	p.logger.Infow("probe detached", "probe", p.obj.Name)

	return nil
}

// TestRun runs the program repeat times over data without attaching it, via
// BPF_PROG_TEST_RUN. data must be at least an Ethernet header long.
func (p *Probe) TestRun(data []byte, repeat uint32) (probe.Verdict, error) {
	ret, err := p.prog.Run(&ebpf.RunOptions{
		Data:   data,
		Repeat: repeat,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to test run probe: %w", err)
	}

	return probe.Verdict(ret), nil
}

func (p *Probe) Read(name string) (uint64, error) {
	return p.counters.Read(name)
}

func (p *Probe) Names() []string {
	return p.counters.Names()
}

func (p *Probe) Snapshot() (map[string]uint64, error) {
	return p.counters.Snapshot()
}

func (p *Probe) Counters() *Counters {
	return p.counters
}

func (p *Probe) Object() *probe.Object {
	return p.obj
}

// Close detaches and unloads the probe. The counters, pinned or not, go with
// it.
func (p *Probe) Close() error {
	var errs []error

	if p.xdp != nil {
		if err := p.Detach(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.pinned {
		if err := p.counters.m.Unpin(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unpin counter map: %w", err))
		}
	}

	p.coll.Close()

	return errors.Join(errs...)
}

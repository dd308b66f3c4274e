package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tcassar-diss/xdpcount/bpf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type snapshotter interface {
	Snapshot() (map[string]uint64, error)
}

// Run loads the probe, attaches it to cfg.Interface and keeps it there until
// ctx is cancelled or the process is interrupted. Alongside it run the trace
// reader (when tracing is on), the metrics endpoint (when configured) and a
// poller that logs and optionally records the counters.
func Run(ctx context.Context, logger *zap.SugaredLogger, cfg *Config) error {
	logger.Infoln("=== Launching xdpcount ===")
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Interface == "" {
		return fmt.Errorf("%w: no interface given", ErrCfgInvalid)
	}

	// installed before loading so an interrupt never skips p.Close and leaves
	// the pinned map behind
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obj := cfg.Object()

	p, err := bpf.LoadProbe(logger, obj, &bpf.LoadOpts{PinPath: cfg.PinPath})
	if err != nil {
		return fmt.Errorf("failed to load probe: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warnw("failed to close probe cleanly", "err", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted before attaching: %w", err)
	}

	if err := p.Attach(cfg.Interface, cfg.Mode); err != nil {
		return fmt.Errorf("failed to attach probe: %w", err)
	}

	var rec *Recorder

	if cfg.RecordPath != "" {
		f, err := os.Create(cfg.RecordPath)
		if err != nil {
			return fmt.Errorf("failed to create record file: %w", err)
		}
		defer f.Close()

		rec = NewRecorder(p.Names(), f)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if cfg.Metrics.Listen != "" {
		reg, err := NewRegistry(logger, p, obj.Name)
		if err != nil {
			return err
		}

		eg.Go(func() error {
			return ServeMetrics(egCtx, logger, cfg.Metrics.Listen, reg)
		})
	}

	if obj.Trace.Enabled {
		tr, err := bpf.NewTraceReader(logger, cfg.TracePipe)
		if err != nil {
			// tracing is best-effort: counting goes on without it
			logger.Warnw("probe traces will not be read", "err", err)
		} else {
			eg.Go(func() error {
				return tr.Run(egCtx, func(tl *bpf.TraceLine) {
					logger.Infow("probe trace", "msg", tl.Message, "cpu", tl.CPU, "task", tl.Task)
				})
			})
		}
	}

	eg.Go(func() error {
		return poll(egCtx, logger, p, cfg.PollInterval.Duration, rec)
	})

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("error encountered while counting: %w", err)
	}

	logStats(logger, p)

	return nil
}

// poll samples the counters every interval until ctx is cancelled. A failed
// read is logged and skipped; reads are weakly consistent anyway.
func poll(ctx context.Context, logger *zap.SugaredLogger, s snapshotter, interval time.Duration, rec *Recorder) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			snap, err := s.Snapshot()
			if err != nil {
				logger.Warnw("failed to read counters", "err", err)
				continue
			}

			logger.Debugw("counters", "values", snap)

			if rec != nil {
				if err := rec.Record(now, snap); err != nil {
					return fmt.Errorf("failed to record counters: %w", err)
				}
			}
		}
	}
}

func logStats(logger *zap.SugaredLogger, s snapshotter) {
	snap, err := s.Snapshot()
	if err != nil {
		logger.Warnw("failed to read final counters", "err", err)
		return
	}

	bts, err := json.Marshal(snap)
	if err != nil {
		logger.Warnw("failed to marshal counters", "err", err)
		return
	}

	logger.Infow("final counters", "counters", string(bts))
}

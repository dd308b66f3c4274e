package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CounterReader is a name-keyed view of a probe's counters. The kernel probe,
// a pinned map and the in-process host all satisfy it.
type CounterReader interface {
	Names() []string
	Read(name string) (uint64, error)
}

// counterCollector reads the counters at scrape time, so the endpoint never
// serves a cached value.
type counterCollector struct {
	logger *zap.SugaredLogger
	reader CounterReader
	desc   *prometheus.Desc
}

func newCounterCollector(logger *zap.SugaredLogger, reader CounterReader, probeName string) *counterCollector {
	return &counterCollector{
		logger: logger,
		reader: reader,
		desc: prometheus.NewDesc(
			"xdpcount_counter",
			"Current value of a probe counter. Wraps at 2^64.",
			[]string{"counter"},
			prometheus.Labels{"probe": probeName},
		),
	}
}

func (c *counterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *counterCollector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.reader.Names() {
		v, err := c.reader.Read(name)
		if err != nil {
			c.logger.Warnw("failed to read counter for scrape", "counter", name, "err", err)
			continue
		}

		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), name)
	}
}

// NewRegistry returns a registry exposing every counter of reader.
func NewRegistry(logger *zap.SugaredLogger, reader CounterReader, probeName string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(newCounterCollector(logger, reader, probeName)); err != nil {
		return nil, fmt.Errorf("failed to register counter collector: %w", err)
	}

	return reg, nil
}

// ServeMetrics serves reg on listen at /metrics until ctx is cancelled. A bad
// or busy address fails before anything is served.
func ServeMetrics(ctx context.Context, logger *zap.SugaredLogger, listen string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}

	return serveMetrics(ctx, logger, ln, reg)
}

func serveMetrics(ctx context.Context, logger *zap.SugaredLogger, ln net.Listener, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		logger.Infow("serving metrics", "addr", ln.Addr().String())
		errChan <- srv.Serve(ln)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}

	logger.Infow("metrics server stopped")

	return nil
}

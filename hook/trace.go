package hook

import (
	"context"

	"github.com/tcassar-diss/xdpcount/probe"
	"go.uber.org/zap"
)

// LogTraces is the trace reader for the in-process host: it writes every
// record to the logger until ctx is cancelled or records is closed.
func LogTraces(ctx context.Context, logger *zap.SugaredLogger, records <-chan probe.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}

			logger.Infow("probe trace", "msg", rec.String())
		}
	}
}

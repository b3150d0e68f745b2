// Package sink delivers tracker observations to downstream consumers.
package sink

import (
	"context"
	"log/slog"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// Sink consumes observations in production order
type Sink interface {
	Consume(ctx context.Context, obs types.Observation) error
	Close() error
}

// Run receives observations from in and hands each one to s until in is
// closed or ctx is done. Consume errors are logged and do not stop the loop.
// Run does not close s.
func Run(ctx context.Context, s Sink, in <-chan types.Observation, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var consumed, failed uint64
	defer func() {
		logger.Info("sink: run loop stopped",
			"consumed", consumed,
			"failed", failed,
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.Consume(ctx, obs); err != nil {
				failed++
				logger.Warn("sink: consume failed",
					"error", err,
					"seq", obs.Seq,
					"trace_id", obs.TraceID,
				)
				continue
			}
			consumed++
		}
	}
}

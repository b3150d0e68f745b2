package sink

import (
	"context"
	"log/slog"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// Log writes observations to a structured logger: one debug record per
// observation and one info record per presence transition.
type Log struct {
	logger *slog.Logger

	prev    types.PresenceState
	started bool
}

// NewLog creates a log sink
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Consume implements Sink
func (l *Log) Consume(ctx context.Context, obs types.Observation) error {
	l.logger.Debug("observation",
		"seq", obs.Seq,
		"trace_id", obs.TraceID,
		"timestamp", obs.Timestamp,
		"state", obs.State.String(),
		"state_run", obs.StateRun,
		"landmarks", len(obs.Landmarks),
		"expressions", len(obs.Expressions),
	)

	if !l.started || obs.State != l.prev {
		l.logger.Info("presence changed",
			"from", presenceFrom(l.prev, l.started),
			"to", obs.State.String(),
			"seq", obs.Seq,
			"timestamp", obs.Timestamp,
		)
	}
	l.prev = obs.State
	l.started = true

	return nil
}

// Close implements Sink
func (l *Log) Close() error {
	return nil
}

func presenceFrom(prev types.PresenceState, started bool) string {
	if !started {
		return "NONE"
	}
	return prev.String()
}

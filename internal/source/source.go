// Package source runs the capture loop: read one image, timestamp it,
// transform it and publish it into the frame queue with drop-oldest
// backpressure.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-facemesh/internal/capture"
	"github.com/e7canasta/orion-facemesh/internal/framequeue"
	"github.com/e7canasta/orion-facemesh/internal/types"
)

const (
	// defaultStatsWindow is the number of recent capture times kept for FPS stats
	defaultStatsWindow = 120
	// stopGrace is how long Stop waits for an in-flight Read before cancelling it
	stopGrace = 3 * time.Second
)

// Config configures a Source
type Config struct {
	// Transform runs on every image. nil publishes images as captured.
	Transform *capture.Transform
	// StatsWindow is the number of recent frames used for FPS stats
	StatsWindow int
}

// Stats is a snapshot of source counters
type Stats struct {
	FramesCaptured  uint64   `json:"frames_captured"`
	FramesPublished uint64   `json:"frames_published"`
	FramesDropped   uint64   `json:"frames_dropped"`
	CaptureFailures uint64   `json:"capture_failures"`
	QueueLen        int      `json:"queue_len"`
	QueueCap        int      `json:"queue_cap"`
	Running         bool     `json:"running"`
	Exhausted       bool     `json:"exhausted"`
	UptimeSeconds   float64  `json:"uptime_s"`
	FPS             FPSStats `json:"fps"`
}

// Source is the first pipeline stage. It owns the capturer and closes both
// the capturer and the queue when its loop exits.
type Source struct {
	cfg      Config
	capturer capture.Capturer
	queue    *framequeue.Queue[types.Frame]
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	stopping  atomic.Bool
	running   atomic.Bool
	exhausted atomic.Bool

	// epoch anchors frame timestamps; time.Since reads the monotonic clock
	epoch time.Time
	seq   uint64

	captured atomic.Uint64
	failures atomic.Uint64

	timesMu sync.Mutex
	times   []float64
}

// New creates a Source. The capturer is already open; for file sources that
// is where a missing path fails with capture.ErrNotFound.
func New(cfg Config, capturer capture.Capturer, queue *framequeue.Queue[types.Frame], logger *slog.Logger) (*Source, error) {
	if capturer == nil {
		return nil, fmt.Errorf("source: capturer is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("source: queue is required")
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = defaultStatsWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		cfg:      cfg,
		capturer: capturer,
		queue:    queue,
		logger:   logger,
		done:     make(chan struct{}),
		times:    make([]float64, 0, cfg.StatsWindow),
	}, nil
}

// Start launches the capture loop. It returns an error if already started.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("source: already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.epoch = time.Now()
	s.running.Store(true)

	s.logger.Info("source: starting capture loop",
		"queue_capacity", s.queue.Cap(),
		"transform", s.cfg.Transform != nil,
	)

	go s.run(runCtx)

	return nil
}

// Stop asks the loop to exit after the current capture and waits for it.
// An in-flight Read is only cancelled if it outlasts stopGrace. Safe to call
// from any goroutine, any number of times.
func (s *Source) Stop() {
	s.stopping.Store(true)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	select {
	case <-s.done:
	case <-time.After(stopGrace):
		s.logger.Warn("source: stop grace exceeded, cancelling in-flight capture",
			"grace", stopGrace,
		)
		cancel()
		<-s.done
	}
	cancel()
}

// Done is closed when the loop has exited and the queue is closed
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	defer s.running.Store(false)
	defer func() {
		// Closing the queue is what wakes the tracker
		s.queue.Close()
		if err := s.capturer.Close(); err != nil {
			s.logger.Error("source: failed to close capturer", "error", err)
		}
		stats := s.Stats()
		s.logger.Info("source: capture loop stopped",
			"frames_captured", stats.FramesCaptured,
			"frames_published", stats.FramesPublished,
			"frames_dropped", stats.FramesDropped,
			"capture_failures", stats.CaptureFailures,
			"exhausted", stats.Exhausted,
		)
	}()

	for {
		if s.stopping.Load() || ctx.Err() != nil {
			return
		}

		img, err := s.capturer.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.exhausted.Store(true)
				s.logger.Info("source: capture exhausted")
				return
			}
			if ctx.Err() != nil {
				return
			}
			n := s.failures.Add(1)
			s.logger.Warn("source: capture failed, continuing",
				"error", err,
				"capture_failures", n,
			)
			continue
		}

		ts := time.Since(s.epoch).Seconds()
		s.captured.Add(1)

		if s.cfg.Transform != nil {
			img, err = s.cfg.Transform.Apply(img)
			if err != nil {
				n := s.failures.Add(1)
				s.logger.Warn("source: transform failed, skipping frame",
					"error", err,
					"capture_failures", n,
				)
				continue
			}
		}

		s.seq++
		frame := types.Frame{
			Seq:       s.seq,
			Timestamp: ts,
			Image:     img,
			TraceID:   uuid.New().String(),
		}

		if dropped := s.queue.Publish(frame); dropped {
			s.logger.Debug("source: queue full, dropped oldest frame",
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
			)
		}

		s.recordTime(ts)
	}
}

func (s *Source) recordTime(ts float64) {
	s.timesMu.Lock()
	defer s.timesMu.Unlock()

	if len(s.times) == s.cfg.StatsWindow {
		copy(s.times, s.times[1:])
		s.times = s.times[:len(s.times)-1]
	}
	s.times = append(s.times, ts)
}

// Stats returns a snapshot of source counters
func (s *Source) Stats() Stats {
	s.timesMu.Lock()
	times := append([]float64(nil), s.times...)
	s.timesMu.Unlock()

	q := s.queue.Stats()

	var uptime float64
	s.mu.Lock()
	if s.started {
		uptime = time.Since(s.epoch).Seconds()
	}
	s.mu.Unlock()

	return Stats{
		FramesCaptured:  s.captured.Load(),
		FramesPublished: q.Published,
		FramesDropped:   q.Dropped,
		CaptureFailures: s.failures.Load(),
		QueueLen:        q.Len,
		QueueCap:        q.Cap,
		Running:         s.running.Load(),
		Exhausted:       s.exhausted.Load(),
		UptimeSeconds:   uptime,
		FPS:             calculateFPSStats(times),
	}
}

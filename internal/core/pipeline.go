// Package core assembles the frame source, tracker and sink into one running
// pipeline and exposes its health over HTTP.
package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/e7canasta/orion-facemesh/internal/capture"
	"github.com/e7canasta/orion-facemesh/internal/config"
	"github.com/e7canasta/orion-facemesh/internal/framequeue"
	"github.com/e7canasta/orion-facemesh/internal/inference"
	"github.com/e7canasta/orion-facemesh/internal/sink"
	"github.com/e7canasta/orion-facemesh/internal/source"
	"github.com/e7canasta/orion-facemesh/internal/tracker"
	"github.com/e7canasta/orion-facemesh/internal/types"
)

// starter is implemented by landmarkers that own a process
type starter interface {
	Start(ctx context.Context) error
}

// connector is implemented by sinks that need a broker connection
type connector interface {
	Connect(ctx context.Context) error
}

// Pipeline is the facemeshd service: Frame Source -> Tracker -> Sink
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	capturer   capture.Capturer
	landmarker inference.Landmarker
	sink       sink.Sink

	observations chan types.Observation
	source       *source.Source
	tracker      *tracker.Tracker

	server *http.Server

	// Lifecycle management
	mu         sync.RWMutex
	started    time.Time
	isRunning  bool
	sinkCancel context.CancelFunc
	sinkDone   chan struct{}
}

// New builds a pipeline from the configuration
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	return NewWithDeps(cfg, Deps{}, logger)
}

// NewWithDeps builds a pipeline, using the given collaborators where set.
// The capturer is opened here, so a missing input file fails with
// capture.ErrNotFound before anything runs.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("core: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	transform, err := newTransform(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	landmarker := deps.Landmarker
	if landmarker == nil {
		landmarker, err = newLandmarker(cfg.Inference, logger.With("component", "inference"))
		if err != nil {
			return nil, fmt.Errorf("core: failed to create landmarker: %w", err)
		}
	}

	out := deps.Sink
	if out == nil {
		out, err = newSink(cfg, logger.With("component", "sink"))
		if err != nil {
			return nil, fmt.Errorf("core: failed to create sink: %w", err)
		}
	}

	capturer := deps.Capturer
	if capturer == nil {
		capturer, err = newCapturer(cfg.Capture, logger.With("component", "capture"))
		if err != nil {
			return nil, fmt.Errorf("core: failed to open capture: %w", err)
		}
	}

	queue := framequeue.New[types.Frame](cfg.Pipeline.FrameBuffer)
	observations := make(chan types.Observation, cfg.Pipeline.ObservationBuffer)

	src, err := source.New(source.Config{Transform: transform}, capturer, queue, logger.With("component", "source"))
	if err != nil {
		capturer.Close()
		return nil, fmt.Errorf("core: %w", err)
	}

	smoother := newSmoother(cfg.Smoothing, logger.With("component", "filter"))

	trk, err := tracker.New(tracker.Config{StoreFrame: cfg.Tracker.StoreFrame},
		landmarker, queue.C(), observations, smoother, logger.With("component", "tracker"))
	if err != nil {
		capturer.Close()
		return nil, fmt.Errorf("core: %w", err)
	}

	logger.Info("pipeline configured",
		"instance_id", cfg.InstanceID,
		"capture", cfg.Capture.Source,
		"format", cfg.Capture.Format,
		"size", cfg.Capture.Size,
		"frame_buffer", cfg.Pipeline.FrameBuffer,
		"observation_buffer", cfg.Pipeline.ObservationBuffer,
		"inference", cfg.Inference.Kind,
		"smoothing", cfg.Smoothing.Enabled,
		"sink", cfg.Sink.Kind,
	)

	return &Pipeline{
		cfg:          cfg,
		logger:       logger,
		capturer:     capturer,
		landmarker:   landmarker,
		sink:         out,
		observations: observations,
		source:       src,
		tracker:      trk,
		sinkDone:     make(chan struct{}),
	}, nil
}

// Run starts every stage and blocks until ctx is cancelled or the source is
// exhausted and the sink has drained. Call Shutdown afterwards.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("pipeline is already running")
	}
	p.isRunning = true
	p.started = time.Now()
	p.mu.Unlock()

	p.logger.Info("pipeline starting", "instance_id", p.cfg.InstanceID)

	if err := p.startStages(ctx); err != nil {
		p.abort()
		return err
	}

	if p.cfg.Health.Addr != "" {
		if err := p.StartHealthServer(p.cfg.Health.Addr); err != nil {
			p.logger.Error("failed to start health server", "error", err)
		}
	}

	p.logger.Info("pipeline running")

	select {
	case <-ctx.Done():
		p.logger.Info("pipeline run loop exiting")
	case <-p.sinkDone:
		p.logger.Info("pipeline drained, source exhausted")
	}

	return nil
}

func (p *Pipeline) startStages(ctx context.Context) error {
	if s, ok := p.landmarker.(starter); ok {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("failed to start landmarker: %w", err)
		}
	}

	if c, ok := p.sink.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect sink: %w", err)
		}
	}

	if err := p.tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tracker: %w", err)
	}
	if err := p.source.Start(ctx); err != nil {
		p.tracker.Stop()
		return fmt.Errorf("failed to start source: %w", err)
	}

	// The sink outlives ctx so it can drain what the tracker already produced
	sinkCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.sinkCancel = cancel
	p.mu.Unlock()

	go func() {
		defer close(p.sinkDone)
		if err := sink.Run(sinkCtx, p.sink, p.observations, p.logger.With("component", "sink")); err != nil {
			p.logger.Warn("sink stopped before draining", "error", err)
		}
	}()

	return nil
}

// abort releases resources after a failed start. The source never ran, so
// the capturer is still ours to close.
func (p *Pipeline) abort() {
	if err := p.capturer.Close(); err != nil {
		p.logger.Error("failed to close capturer", "error", err)
	}
	p.closeCollaborators()

	p.mu.Lock()
	p.isRunning = false
	p.mu.Unlock()
}

// Shutdown stops the stages upstream first so in-flight observations reach
// the sink. Work still pending when ctx expires is dropped.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.logger.Info("shutting down pipeline")

	p.shutdownStages(ctx)
	p.closeCollaborators()

	p.mu.RLock()
	server := p.server
	p.mu.RUnlock()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			p.logger.Error("failed to stop health server", "error", err)
		}
	}

	p.mu.Lock()
	uptime := time.Since(p.started)
	p.isRunning = false
	p.mu.Unlock()

	p.logger.Info("pipeline shutdown complete", "uptime", uptime)

	return nil
}

func (p *Pipeline) shutdownStages(ctx context.Context) {
	// 1. Source: closing the queue lets the tracker drain and exit
	p.logger.Info("stopping source")
	p.source.Stop()

	// 2. Tracker: closes the observation channel on exit
	select {
	case <-p.tracker.Done():
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline reached, cancelling tracker")
	}
	p.tracker.Stop()

	// 3. Sink drains the observation channel
	select {
	case <-p.sinkDone:
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline reached, dropping undelivered observations")
		p.mu.RLock()
		cancel := p.sinkCancel
		p.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		<-p.sinkDone
	}

	p.mu.RLock()
	cancel := p.sinkCancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pipeline) closeCollaborators() {
	if c, ok := p.landmarker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			p.logger.Error("failed to close landmarker", "error", err)
		}
	}
	if err := p.sink.Close(); err != nil {
		p.logger.Error("failed to close sink", "error", err)
	}
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (p *Pipeline) ShutdownTimeout() time.Duration {
	return p.cfg.ShutdownTimeout()
}

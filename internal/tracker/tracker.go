// Package tracker turns frames into observations.
//
// Each tick runs inference on one frame, advances the presence machine
// (LOST, REFOUND, TRACKING), builds an Observation from the first detected
// face and hands it to the smoothing stage before publishing it downstream.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-facemesh/internal/inference"
	"github.com/e7canasta/orion-facemesh/internal/types"
)

// Config configures a Tracker
type Config struct {
	// StoreFrame attaches the source image to every observation
	StoreFrame bool
}

// Stats is a snapshot of tracker counters
type Stats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	InferenceErrors uint64 `json:"inference_errors"`
	LostTicks       uint64 `json:"lost_ticks"`
	RefoundTicks    uint64 `json:"refound_ticks"`
	TrackingTicks   uint64 `json:"tracking_ticks"`
	State           string `json:"state"`
	StateRun        int    `json:"state_run"`
}

// Tracker is the pipeline stage between the frame queue and the sink.
type Tracker struct {
	cfg        Config
	landmarker inference.Landmarker
	smoother   Smoother
	logger     *slog.Logger

	frames <-chan types.Frame
	out    chan<- types.Observation

	// presence is owned by the run goroutine
	presence Presence

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}

	outClosed atomic.Bool

	processed       atomic.Uint64
	inferenceErrors atomic.Uint64
	ticks           [3]atomic.Uint64
	lastState       atomic.Int32
	lastRun         atomic.Int64
}

// New creates a Tracker reading frames and writing observations to out.
// A nil smoother means no smoothing. The tracker closes out when it exits.
func New(cfg Config, landmarker inference.Landmarker, frames <-chan types.Frame, out chan<- types.Observation, smoother Smoother, logger *slog.Logger) (*Tracker, error) {
	if landmarker == nil {
		return nil, fmt.Errorf("tracker: landmarker is required")
	}
	if frames == nil || out == nil {
		return nil, fmt.Errorf("tracker: frames and out channels are required")
	}
	if smoother == nil {
		smoother = Passthrough{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		cfg:        cfg,
		landmarker: landmarker,
		smoother:   smoother,
		logger:     logger,
		frames:     frames,
		out:        out,
		done:       make(chan struct{}),
	}, nil
}

// Start launches the tracking loop. It returns an error if already started.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("tracker: already started")
	}
	t.started = true

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	_, passthrough := t.smoother.(Passthrough)
	t.logger.Info("tracker: starting",
		"store_frame", t.cfg.StoreFrame,
		"smoothing", !passthrough,
	)

	t.wg.Add(1)
	go t.run(runCtx)

	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call from any
// goroutine, any number of times.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
}

// Done is closed when the loop has exited
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.done)
	defer t.closeOut()

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("tracker: context cancelled")
			return

		case frame, ok := <-t.frames:
			if !ok {
				t.logger.Info("tracker: frame channel closed, stopping",
					"frames_processed", t.processed.Load(),
				)
				return
			}

			obs := t.process(ctx, frame)

			select {
			case t.out <- obs:
			case <-ctx.Done():
				t.logger.Debug("tracker: dropping observation due to context cancellation",
					"seq", obs.Seq,
					"trace_id", obs.TraceID,
				)
				return
			}
		}
	}
}

// process runs one tick
func (t *Tracker) process(ctx context.Context, frame types.Frame) types.Observation {
	t.processed.Add(1)

	res, err := t.landmarker.Detect(ctx, frame.Image)
	if err != nil {
		n := t.inferenceErrors.Add(1)
		t.logger.Warn("tracker: inference failed, treating frame as no face",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
			"inference_errors", n,
		)
		res = inference.Result{}
	}

	prev, _ := t.presence.State()
	state, run := t.presence.Update(res.HasFace())

	obs := types.Observation{
		Seq:       frame.Seq,
		TraceID:   frame.TraceID,
		State:     state,
		StateRun:  run,
		Timestamp: frame.Timestamp,
	}

	if state != types.StateLost {
		obs.Landmarks, obs.Expressions = res.First()
	}

	if t.cfg.StoreFrame {
		img := frame.Image
		obs.Frame = &img
	}

	t.ticks[state].Add(1)
	t.lastState.Store(int32(state))
	t.lastRun.Store(int64(run))

	if state != prev {
		t.logger.Info("tracker: presence changed",
			"from", prev.String(),
			"to", state.String(),
			"seq", frame.Seq,
			"timestamp", frame.Timestamp,
		)
	}

	return t.smoother.Filter(obs)
}

func (t *Tracker) closeOut() {
	if t.outClosed.CompareAndSwap(false, true) {
		close(t.out)
	}
}

// Stats returns a snapshot of tracker counters
func (t *Tracker) Stats() Stats {
	return Stats{
		FramesProcessed: t.processed.Load(),
		InferenceErrors: t.inferenceErrors.Load(),
		LostTicks:       t.ticks[types.StateLost].Load(),
		RefoundTicks:    t.ticks[types.StateRefound].Load(),
		TrackingTicks:   t.ticks[types.StateTracking].Load(),
		State:           types.PresenceState(t.lastState.Load()).String(),
		StateRun:        int(t.lastRun.Load()),
	}
}

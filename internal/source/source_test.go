package source

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/e7canasta/orion-facemesh/internal/capture"
	"github.com/e7canasta/orion-facemesh/internal/framequeue"
	"github.com/e7canasta/orion-facemesh/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func synthetic(t *testing.T, cfg capture.SyntheticConfig) *capture.Synthetic {
	t.Helper()
	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 8, 4
	}
	s, err := capture.NewSynthetic(cfg)
	if err != nil {
		t.Fatalf("NewSynthetic failed: %v", err)
	}
	return s
}

func startSource(t *testing.T, cfg Config, c capture.Capturer, q *framequeue.Queue[types.Frame]) *Source {
	t.Helper()
	src, err := New(cfg, c, q, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return src
}

func waitDone(t *testing.T, src *Source) {
	t.Helper()
	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for source to finish")
	}
}

func drain(q *framequeue.Queue[types.Frame]) []types.Frame {
	var frames []types.Frame
	for f := range q.C() {
		frames = append(frames, f)
	}
	return frames
}

// TestExhaustionClosesQueue checks that io.EOF ends the loop and closes the queue.
func TestExhaustionClosesQueue(t *testing.T) {
	q := framequeue.New[types.Frame](10)
	src := startSource(t, Config{}, synthetic(t, capture.SyntheticConfig{Frames: 5}), q)
	waitDone(t, src)

	if !q.Closed() {
		t.Fatal("queue not closed after exhaustion")
	}

	frames := drain(q)
	if len(frames) != 5 {
		t.Fatalf("Expected 5 frames, got %d", len(frames))
	}

	for i, f := range frames {
		if f.Seq != uint64(i+1) {
			t.Errorf("frame %d: seq %d, want %d", i, f.Seq, i+1)
		}
		if f.TraceID == "" {
			t.Errorf("frame %d: missing trace id", i)
		}
		if i > 0 && f.Timestamp < frames[i-1].Timestamp {
			t.Errorf("frame %d: timestamp went backwards", i)
		}
	}

	stats := src.Stats()
	if !stats.Exhausted || stats.Running {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.FramesCaptured != 5 || stats.FramesPublished != 5 {
		t.Errorf("unexpected counters: %+v", stats)
	}
}

// TestTransientFailureContinues covers reads that return no frame.
func TestTransientFailureContinues(t *testing.T) {
	q := framequeue.New[types.Frame](10)
	src := startSource(t, Config{}, synthetic(t, capture.SyntheticConfig{Frames: 3, FailEvery: 2}), q)
	waitDone(t, src)

	if frames := drain(q); len(frames) != 3 {
		t.Errorf("Expected 3 frames despite failures, got %d", len(frames))
	}
	if got := src.Stats().CaptureFailures; got != 2 {
		t.Errorf("Expected 2 capture failures, got %d", got)
	}
}

// TestSlowConsumerKeepsNewest publishes into a small queue nobody reads.
func TestSlowConsumerKeepsNewest(t *testing.T) {
	const capacity = 2
	q := framequeue.New[types.Frame](capacity)
	src := startSource(t, Config{}, synthetic(t, capture.SyntheticConfig{Frames: 50}), q)
	waitDone(t, src)

	if q.Len() > capacity {
		t.Fatalf("queue length %d exceeds capacity %d", q.Len(), capacity)
	}

	frames := drain(q)
	if len(frames) != capacity {
		t.Fatalf("Expected %d frames, got %d", capacity, len(frames))
	}
	if frames[0].Seq != 49 || frames[1].Seq != 50 {
		t.Errorf("Expected newest frames 49, 50, got %d, %d", frames[0].Seq, frames[1].Seq)
	}

	if got := src.Stats().FramesDropped; got != 48 {
		t.Errorf("Expected 48 dropped, got %d", got)
	}
}

func TestTransformApplied(t *testing.T) {
	tr, err := capture.NewTransform(types.FormatRGB24, 1.0, capture.Size{Width: 4, Height: 2})
	if err != nil {
		t.Fatalf("NewTransform failed: %v", err)
	}

	q := framequeue.New[types.Frame](4)
	src := startSource(t, Config{Transform: tr}, synthetic(t, capture.SyntheticConfig{Width: 16, Height: 8, Frames: 2}), q)
	waitDone(t, src)

	for _, f := range drain(q) {
		if f.Image.Width != 4 || f.Image.Height != 2 || f.Image.Format != types.FormatRGB24 {
			t.Errorf("frame %d not transformed: %dx%d %s", f.Seq, f.Image.Width, f.Image.Height, f.Image.Format)
		}
		if len(f.Image.Data) != 4*2*3 {
			t.Errorf("frame %d: %d bytes, want %d", f.Seq, len(f.Image.Data), 4*2*3)
		}
	}
}

func TestStopClosesQueue(t *testing.T) {
	q := framequeue.New[types.Frame](2)
	src := startSource(t, Config{}, synthetic(t, capture.SyntheticConfig{FPS: 200}), q)

	time.Sleep(30 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		src.Stop()
		src.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if !q.Closed() {
		t.Error("queue not closed after Stop")
	}
	if src.Stats().Exhausted {
		t.Error("stopped source reported exhaustion")
	}
}

func TestContextCancelStops(t *testing.T) {
	q := framequeue.New[types.Frame](2)
	src, _ := New(Config{}, synthetic(t, capture.SyntheticConfig{FPS: 100}), q, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()
	waitDone(t, src)
}

func TestStartTwice(t *testing.T) {
	q := framequeue.New[types.Frame](2)
	src := startSource(t, Config{}, synthetic(t, capture.SyntheticConfig{FPS: 100}), q)
	defer src.Stop()

	if err := src.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestNewValidation(t *testing.T) {
	q := framequeue.New[types.Frame](1)
	if _, err := New(Config{}, nil, q, nil); err == nil {
		t.Error("Expected error for nil capturer")
	}
	if _, err := New(Config{}, synthetic(t, capture.SyntheticConfig{}), nil, nil); err == nil {
		t.Error("Expected error for nil queue")
	}
}

// errCapturer returns tiny images, then ErrNoFrame past limit
type errCapturer struct {
	reads  int
	limit  int
	closed bool
}

func (e *errCapturer) Read(ctx context.Context) (types.Image, error) {
	e.reads++
	if e.reads > e.limit {
		return types.Image{}, capture.ErrNoFrame
	}
	return types.Image{Data: []byte{1}, Width: 1, Height: 1, Format: types.FormatGray8}, nil
}

func (e *errCapturer) Close() error {
	e.closed = true
	return nil
}

func TestCapturerClosedOnExit(t *testing.T) {
	c := &errCapturer{limit: 1000}
	q := framequeue.New[types.Frame](1)
	src := startSource(t, Config{}, c, q)

	time.Sleep(10 * time.Millisecond)
	src.Stop()

	if !c.closed {
		t.Error("capturer not closed when the loop exited")
	}
}

func TestCalculateFPSStats(t *testing.T) {
	times := make([]float64, 31)
	for i := range times {
		times[i] = float64(i) / 10
	}

	s := calculateFPSStats(times)
	if math.Abs(s.FPSMean-10) > 1e-9 {
		t.Errorf("FPSMean = %v, want 10", s.FPSMean)
	}
	if math.Abs(s.FPSMin-10) > 1e-6 || math.Abs(s.FPSMax-10) > 1e-6 {
		t.Errorf("FPSMin/Max = %v/%v, want 10", s.FPSMin, s.FPSMax)
	}
	if !s.IsStable {
		t.Errorf("regular timestamps should be stable: %+v", s)
	}

	if s := calculateFPSStats([]float64{1}); s.FPSMean != 0 || s.Frames != 1 {
		t.Errorf("single frame stats = %+v", s)
	}
	if s := calculateFPSStats([]float64{1, 1, 1}); s.FPSMean != 0 {
		t.Errorf("zero-span stats = %+v", s)
	}

	jittery := []float64{0, 0.1, 0.15, 0.4, 0.45, 0.9}
	if s := calculateFPSStats(jittery); s.IsStable {
		t.Errorf("jittery timestamps reported stable: %+v", s)
	}
}

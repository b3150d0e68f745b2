// Package gstreamer captures frames from V4L2 devices and media files
// through a GStreamer pipeline ending in an appsink.
package gstreamer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-facemesh/internal/capture"
	"github.com/e7canasta/orion-facemesh/internal/types"
)

// DefaultReadTimeout bounds one Read when no sample arrives
const DefaultReadTimeout = time.Second

// Capturer pulls BGR samples from an appsink
type Capturer struct {
	cfg         pipelineConfig
	readTimeout time.Duration
	logger      *slog.Logger

	elements *pipelineElements

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// eos is set by the bus monitor on end of stream or a fatal file error
	eos     atomic.Bool
	lastErr atomic.Value // string

	frames        atomic.Uint64
	bytesRead     atomic.Uint64
	pipelineError atomic.Uint64
}

// NewDevice opens /dev/video<index>
func NewDevice(index int, size capture.Size, logger *slog.Logger) (*Capturer, error) {
	if index < 0 {
		return nil, fmt.Errorf("capture: invalid device index %d", index)
	}
	return newCapturer(pipelineConfig{
		Device: fmt.Sprintf("/dev/video%d", index),
		Width:  size.Width,
		Height: size.Height,
	}, logger)
}

// NewFile opens a media file. It fails with capture.ErrNotFound if path does
// not exist.
func NewFile(path string, size capture.Size, logger *slog.Logger) (*Capturer, error) {
	if err := capture.CheckFile(path); err != nil {
		return nil, err
	}
	return newCapturer(pipelineConfig{
		FilePath: path,
		Width:    size.Width,
		Height:   size.Height,
	}, logger)
}

func newCapturer(cfg pipelineConfig, logger *slog.Logger) (*Capturer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	elements, err := createPipeline(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		destroyPipeline(elements)
		return nil, fmt.Errorf("capture: failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Capturer{
		cfg:         cfg,
		readTimeout: DefaultReadTimeout,
		logger:      logger,
		elements:    elements,
		cancel:      cancel,
	}

	c.wg.Add(1)
	go c.monitorBus(ctx)

	logger.Info("capture: gstreamer pipeline started",
		"device", cfg.Device,
		"file", cfg.FilePath,
		"size", capture.Size{Width: cfg.Width, Height: cfg.Height}.String(),
	)

	return c, nil
}

// Read implements capture.Capturer
func (c *Capturer) Read(ctx context.Context) (types.Image, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed || c.eos.Load() {
		return types.Image{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return types.Image{}, err
	}

	sample := c.elements.AppSink.TryPullSample(c.readTimeout)
	if sample == nil {
		if c.elements.AppSink.IsEOS() || c.eos.Load() {
			c.eos.Store(true)
			return types.Image{}, io.EOF
		}
		return types.Image{}, capture.ErrNoFrame
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return types.Image{}, fmt.Errorf("%w: sample without buffer", capture.ErrNoFrame)
	}

	width, height := c.sampleSize(sample)
	if width == 0 || height == 0 {
		return types.Image{}, fmt.Errorf("%w: sample without dimensions", capture.ErrNoFrame)
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return types.Image{}, fmt.Errorf("%w: empty buffer", capture.ErrNoFrame)
	}

	// Copy, GStreamer reuses the buffer. BGR rows are padded to 4 bytes.
	stride := len(data) / height
	row := width * 3
	frame := make([]byte, row*height)
	if stride == row {
		copy(frame, data)
	} else {
		for y := 0; y < height; y++ {
			copy(frame[y*row:(y+1)*row], data[y*stride:y*stride+row])
		}
	}
	buffer.Unmap()

	c.frames.Add(1)
	c.bytesRead.Add(uint64(len(data)))

	return types.Image{Data: frame, Width: width, Height: height, Format: types.FormatBGR24}, nil
}

// sampleSize reads width and height from the sample caps
func (c *Capturer) sampleSize(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return c.cfg.Width, c.cfg.Height
	}
	structure := caps.GetStructureAt(0)

	var width, height int
	if val, err := structure.GetValue("width"); err == nil {
		if w, ok := val.(int); ok {
			width = w
		}
	}
	if val, err := structure.GetValue("height"); err == nil {
		if h, ok := val.(int); ok {
			height = h
		}
	}
	return width, height
}

// monitorBus watches pipeline messages until ctx ends
func (c *Capturer) monitorBus(ctx context.Context) {
	defer c.wg.Done()

	bus := c.elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			c.logger.Info("capture: end of stream received",
				"file", c.cfg.FilePath,
				"frames", c.frames.Load(),
			)
			c.eos.Store(true)

		case gst.MessageError:
			gerr := msg.ParseError()
			c.pipelineError.Add(1)
			c.lastErr.Store(gerr.Error())
			c.logger.Error("capture: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"device", c.cfg.Device,
				"file", c.cfg.FilePath,
			)
			// A broken file will not recover, a device may
			if c.cfg.FilePath != "" {
				c.eos.Store(true)
			}

		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			c.logger.Warn("capture: pipeline warning", "warning", gerr.Error())
		}
	}
}

// Stats is a snapshot of capturer counters
type Stats struct {
	Frames         uint64 `json:"frames"`
	BytesRead      uint64 `json:"bytes_read"`
	PipelineErrors uint64 `json:"pipeline_errors"`
	LastError      string `json:"last_error,omitempty"`
}

// Stats returns the capturer counters
func (c *Capturer) Stats() Stats {
	s := Stats{
		Frames:         c.frames.Load(),
		BytesRead:      c.bytesRead.Load(),
		PipelineErrors: c.pipelineError.Load(),
	}
	if v, ok := c.lastErr.Load().(string); ok {
		s.LastError = v
	}
	return s
}

// Close stops the pipeline and releases the device. It is idempotent.
func (c *Capturer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	if err := destroyPipeline(c.elements); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	c.logger.Info("capture: gstreamer pipeline stopped",
		"frames", c.frames.Load(),
		"bytes_read", c.bytesRead.Load(),
	)
	return nil
}

package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// SyntheticConfig configures a Synthetic capturer
type SyntheticConfig struct {
	Width  int
	Height int
	// FPS paces Read. 0 returns frames as fast as they are read.
	FPS int
	// Frames ends the stream with io.EOF after this many images. 0 is unlimited.
	Frames int
	// FailEvery makes every Nth read return ErrNoFrame. 0 disables it.
	FailEvery int
}

// Synthetic generates a BGR test pattern: a horizontal gradient with a bright
// square sweeping across it.
type Synthetic struct {
	cfg SyntheticConfig

	mu      sync.Mutex
	reads   int
	emitted int
	next    time.Time
	closed  bool
}

// NewSynthetic creates a synthetic capturer
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: synthetic size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS < 0 || cfg.Frames < 0 || cfg.FailEvery < 0 {
		return nil, fmt.Errorf("capture: synthetic fps, frames and fail_every must be >= 0")
	}
	return &Synthetic{cfg: cfg}, nil
}

// Read implements Capturer
func (s *Synthetic) Read(ctx context.Context) (types.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Image{}, io.EOF
	}
	if s.cfg.Frames > 0 && s.emitted >= s.cfg.Frames {
		return types.Image{}, io.EOF
	}

	if err := s.pace(ctx); err != nil {
		return types.Image{}, err
	}

	s.reads++
	if s.cfg.FailEvery > 0 && s.reads%s.cfg.FailEvery == 0 {
		return types.Image{}, ErrNoFrame
	}

	img := s.render(s.emitted)
	s.emitted++
	return img, nil
}

// pace sleeps until the next frame slot
func (s *Synthetic) pace(ctx context.Context) error {
	if s.cfg.FPS == 0 {
		return ctx.Err()
	}

	interval := time.Second / time.Duration(s.cfg.FPS)
	now := time.Now()
	if s.next.IsZero() || s.next.Before(now.Add(-interval)) {
		s.next = now
	}

	if wait := s.next.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.next = s.next.Add(interval)
	return nil
}

func (s *Synthetic) render(n int) types.Image {
	w, h := s.cfg.Width, s.cfg.Height
	data := make([]byte, 3*w*h)

	side := h / 4
	if side < 1 {
		side = 1
	}
	x0 := (n * 4) % w
	y0 := (h - side) / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 3 * (y*w + x)
			g := byte(255 * x / w)
			data[i], data[i+1], data[i+2] = g, g/2, 255-g

			if x >= x0 && x < x0+side && y >= y0 && y < y0+side {
				data[i], data[i+1], data[i+2] = 255, 255, 255
			}
		}
	}

	return types.Image{Data: data, Width: w, Height: h, Format: types.FormatBGR24}
}

// Close implements Capturer
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package capture

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := CheckFile(path); err != nil {
		t.Errorf("CheckFile(existing) = %v", err)
	}

	err := CheckFile(filepath.Join(dir, "missing.mp4"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist match, got %v", err)
	}

	if err := CheckFile(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for empty path, got %v", err)
	}
	if err := CheckFile(dir); err == nil {
		t.Error("Expected error for directory")
	}
}

func TestSyntheticFrameLimit(t *testing.T) {
	s, err := NewSynthetic(SyntheticConfig{Width: 8, Height: 4, Frames: 3})
	if err != nil {
		t.Fatalf("NewSynthetic failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		img, err := s.Read(context.Background())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if img.Width != 8 || img.Height != 4 || len(img.Data) != 8*4*3 || img.Format != types.FormatBGR24 {
			t.Fatalf("read %d: unexpected image %dx%d len=%d", i, img.Width, img.Height, len(img.Data))
		}
	}

	if _, err := s.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after frame limit, got %v", err)
	}
}

func TestSyntheticFailureInjection(t *testing.T) {
	s, _ := NewSynthetic(SyntheticConfig{Width: 2, Height: 2, FailEvery: 2})

	var failures int
	for i := 0; i < 6; i++ {
		if _, err := s.Read(context.Background()); errors.Is(err, ErrNoFrame) {
			failures++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if failures != 3 {
		t.Errorf("Expected 3 injected failures, got %d", failures)
	}
}

func TestSyntheticPacingHonorsContext(t *testing.T) {
	s, _ := NewSynthetic(SyntheticConfig{Width: 2, Height: 2, FPS: 1})

	// First frame is immediate
	if _, err := s.Read(context.Background()); err != nil {
		t.Fatalf("first read: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := s.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Read ignored context cancellation")
	}
}

func TestSyntheticClose(t *testing.T) {
	s, _ := NewSynthetic(SyntheticConfig{Width: 2, Height: 2})
	s.Close()
	s.Close()
	if _, err := s.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after Close, got %v", err)
	}
}

func TestNewSyntheticValidation(t *testing.T) {
	if _, err := NewSynthetic(SyntheticConfig{Width: 0, Height: 2}); err == nil {
		t.Error("Expected error for zero width")
	}
	if _, err := NewSynthetic(SyntheticConfig{Width: 2, Height: 2, FPS: -1}); err == nil {
		t.Error("Expected error for negative fps")
	}
}

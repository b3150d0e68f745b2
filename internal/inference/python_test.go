package inference

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// MockCloser wraps a bytes.Buffer so it can stand in for a process pipe.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func testLogger(buf *bytes.Buffer) *slog.Logger {
	if buf == nil {
		buf = &bytes.Buffer{}
	}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// writeReply frames a msgpack reply into w, as the worker would on stdout
func writeReply(t *testing.T, w io.Writer, reply any) {
	t.Helper()
	b, err := msgpack.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	if err := writeFrame(w, b); err != nil {
		t.Fatalf("write reply: %v", err)
	}
}

func newTestPython(t *testing.T, stdin io.WriteCloser, stdout io.Reader, timeout time.Duration) *Python {
	t.Helper()
	p, err := NewPython(PythonConfig{Command: "worker", Timeout: timeout}, testLogger(nil))
	if err != nil {
		t.Fatalf("NewPython failed: %v", err)
	}
	p.attach(stdin, stdout)
	return p
}

func TestPythonDetect(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	stdoutMock := &MockCloser{Buffer: new(bytes.Buffer)}

	writeReply(t, stdoutMock, map[string]any{
		"id": 1,
		"faces": []any{
			map[string]any{
				"landmarks":   [][]float64{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
				"blendshapes": []float64{0.9, 0.1},
			},
		},
		"timing": map[string]any{"total_ms": 4.2},
	})

	p := newTestPython(t, stdinMock, stdoutMock, time.Second)
	img := types.Image{Data: []byte{1, 2, 3}, Width: 1, Height: 1, Format: types.FormatRGB24}

	res, err := p.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if !res.HasFace() {
		t.Fatal("Expected a face")
	}
	lms, expr := res.First()
	if len(lms) != 2 || lms[1] != (types.Landmark{X: 0.4, Y: 0.5, Z: 0.6}) {
		t.Errorf("unexpected landmarks: %+v", lms)
	}
	if len(expr) != 2 || expr[0] != 0.9 {
		t.Errorf("unexpected expressions: %v", expr)
	}

	// Verify what Go sent TO the worker
	sent, err := readFrame(stdinMock)
	if err != nil {
		t.Fatalf("read sent request: %v", err)
	}
	var req detectRequest
	if err := msgpack.Unmarshal(sent, &req); err != nil {
		t.Fatalf("unmarshal sent request: %v", err)
	}
	if req.ID != 1 || req.Width != 1 || req.Format != "rgb" || !bytes.Equal(req.FrameData, img.Data) {
		t.Errorf("unexpected request: %+v", req)
	}

	if stats := p.Stats(); stats.Requests != 1 || stats.Faces != 1 || stats.Failures != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPythonDetectNoFace(t *testing.T) {
	stdout := &MockCloser{Buffer: new(bytes.Buffer)}
	writeReply(t, stdout, map[string]any{"id": 1, "faces": []any{}})

	p := newTestPython(t, &MockCloser{Buffer: new(bytes.Buffer)}, stdout, time.Second)

	res, err := p.Detect(context.Background(), types.Image{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.HasFace() {
		t.Errorf("Expected no face, got %+v", res)
	}
}

func TestPythonDetectWorkerError(t *testing.T) {
	stdout := &MockCloser{Buffer: new(bytes.Buffer)}
	writeReply(t, stdout, map[string]any{"id": 1, "error": "model not loaded"})
	writeReply(t, stdout, map[string]any{"id": 2, "faces": []any{}})

	p := newTestPython(t, &MockCloser{Buffer: new(bytes.Buffer)}, stdout, time.Second)

	_, err := p.Detect(context.Background(), types.Image{})
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("Expected worker error, got %v", err)
	}

	// A worker-reported error keeps the stream usable
	if _, err := p.Detect(context.Background(), types.Image{}); err != nil {
		t.Errorf("Detect after worker error failed: %v", err)
	}
}

func TestPythonDetectMalformedLandmark(t *testing.T) {
	stdout := &MockCloser{Buffer: new(bytes.Buffer)}
	writeReply(t, stdout, map[string]any{
		"id": 1,
		"faces": []any{
			map[string]any{"landmarks": [][]float64{{0.1, 0.2}}, "blendshapes": []float64{0.5}},
		},
	})

	p := newTestPython(t, &MockCloser{Buffer: new(bytes.Buffer)}, stdout, time.Second)
	if _, err := p.Detect(context.Background(), types.Image{}); err == nil {
		t.Fatal("Expected error for 2-component landmark")
	}
}

func TestPythonDetectEOFBreaksStream(t *testing.T) {
	p := newTestPython(t, &MockCloser{Buffer: new(bytes.Buffer)}, &MockCloser{Buffer: new(bytes.Buffer)}, time.Second)

	_, err := p.Detect(context.Background(), types.Image{})
	if !errors.Is(err, errWorkerBroken) {
		t.Fatalf("Expected errWorkerBroken, got %v", err)
	}
	if !p.Stats().Broken {
		t.Error("Expected worker marked broken after EOF")
	}

	if _, err := p.Detect(context.Background(), types.Image{}); !errors.Is(err, errWorkerBroken) {
		t.Errorf("Expected fast failure on broken stream, got %v", err)
	}
}

func TestPythonDetectIDMismatch(t *testing.T) {
	stdout := &MockCloser{Buffer: new(bytes.Buffer)}
	writeReply(t, stdout, map[string]any{"id": 7, "faces": []any{}})

	p := newTestPython(t, &MockCloser{Buffer: new(bytes.Buffer)}, stdout, time.Second)
	if _, err := p.Detect(context.Background(), types.Image{}); !errors.Is(err, errWorkerBroken) {
		t.Errorf("Expected errWorkerBroken on id mismatch, got %v", err)
	}
}

// TestPythonDetectTimeout uses a pipe nobody answers.
func TestPythonDetectTimeout(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	defer stdoutW.Close()

	p := newTestPython(t, &MockCloser{Buffer: new(bytes.Buffer)}, stdoutR, 50*time.Millisecond)

	start := time.Now()
	_, err := p.Detect(context.Background(), types.Image{})
	if !errors.Is(err, errWorkerBroken) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Detect took %v, expected about the 50ms timeout", elapsed)
	}
}

func TestPythonDetectContextCancel(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	defer stdoutW.Close()

	p := newTestPython(t, &MockCloser{Buffer: new(bytes.Buffer)}, stdoutR, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := p.Detect(ctx, types.Image{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPythonLifecycleErrors(t *testing.T) {
	if _, err := NewPython(PythonConfig{}, nil); err == nil {
		t.Error("Expected error for empty command")
	}

	p, err := NewPython(PythonConfig{Command: "worker"}, testLogger(nil))
	if err != nil {
		t.Fatalf("NewPython failed: %v", err)
	}
	if p.cfg.Timeout != DefaultTimeout {
		t.Errorf("Expected default timeout %v, got %v", DefaultTimeout, p.cfg.Timeout)
	}

	if _, err := p.Detect(context.Background(), types.Image{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := p.Detect(context.Background(), types.Image{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Start, got %v", err)
	}
}

func TestLogStderrLevels(t *testing.T) {
	var buf bytes.Buffer
	p, _ := NewPython(PythonConfig{Command: "worker"}, testLogger(&buf))

	stderr := strings.NewReader(strings.Join([]string{
		"2024-01-01 [ERROR] boom",
		"2024-01-01 [WARNING] slow",
		"2024-01-01 [INFO] ready",
	}, "\n"))

	p.wg.Add(1)
	p.logStderr(stderr)

	out := buf.String()
	for _, want := range []string{"level=ERROR", "level=WARN", "level=DEBUG"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in log output:\n%s", want, out)
		}
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := readFrame(buf); err == nil {
		t.Error("Expected error for oversized frame")
	}
}

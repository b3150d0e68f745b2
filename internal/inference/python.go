package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// DefaultTimeout bounds one Detect round trip
const DefaultTimeout = 2 * time.Second

// errWorkerBroken is returned once the stream is out of sync (timeout, EOF,
// mismatched reply). The worker must be restarted.
var errWorkerBroken = errors.New("inference: python worker stream broken")

// PythonConfig configures the Python landmarker subprocess
type PythonConfig struct {
	// Command is the worker executable, usually a wrapper that activates a venv
	Command string
	Args    []string
	// Timeout bounds one request/reply round trip
	Timeout time.Duration
}

// PythonStats is a snapshot of worker counters
type PythonStats struct {
	Requests     uint64  `json:"requests"`
	Faces        uint64  `json:"faces"`
	Failures     uint64  `json:"failures"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	Broken       bool    `json:"broken"`
}

// Python runs face landmark inference in a Python subprocess.
//
// Protocol: each request and reply is a 4-byte big-endian length followed by
// a msgpack body. Requests go to the worker stdin, replies come back on its
// stdout, stderr lines are relayed to the logger.
type Python struct {
	cfg    PythonConfig
	logger *slog.Logger

	// mu serializes round trips; the stream carries one request at a time
	mu     sync.Mutex
	nextID uint64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
	broken  atomic.Bool

	requests       atomic.Uint64
	faces          atomic.Uint64
	failures       atomic.Uint64
	totalLatencyMS atomic.Uint64
}

// NewPython validates cfg. The subprocess is spawned by Start.
func NewPython(cfg PythonConfig, logger *slog.Logger) (*Python, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("inference: command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Python{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Start spawns the worker process. The process is killed when ctx ends.
func (p *Python) Start(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("inference: python worker already started")
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, p.cfg.Command, p.cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		p.started.Store(false)
		return fmt.Errorf("inference: failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		p.started.Store(false)
		return fmt.Errorf("inference: failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		p.started.Store(false)
		return fmt.Errorf("inference: failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		p.started.Store(false)
		return fmt.Errorf("inference: failed to start python process: %w", err)
	}

	p.cmd = cmd
	p.cancel = cancel
	p.attach(stdin, bufio.NewReader(stdout))

	p.wg.Add(2)
	go p.logStderr(stderr)
	go p.waitProcess(procCtx)

	p.logger.Info("inference: python process spawned",
		"command", p.cfg.Command,
		"pid", cmd.Process.Pid,
		"timeout", p.cfg.Timeout,
	)

	return nil
}

// attach wires the request and reply streams
func (p *Python) attach(stdin io.WriteCloser, stdout io.Reader) {
	p.stdin = stdin
	p.stdout = stdout
	p.started.Store(true)
}

type roundTrip struct {
	reply detectReply
	err   error
}

// Detect implements Landmarker
func (p *Python) Detect(ctx context.Context, img types.Image) (Result, error) {
	if p.closed.Load() {
		return Result{}, ErrClosed
	}
	if !p.started.Load() {
		return Result{}, ErrNotStarted
	}
	if p.broken.Load() {
		return Result{}, errWorkerBroken
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.requests.Add(1)

	payload, err := encodeRequest(id, img)
	if err != nil {
		p.failures.Add(1)
		return Result{}, fmt.Errorf("inference: %w", err)
	}

	start := time.Now()
	done := make(chan roundTrip, 1)
	go func() {
		if err := writeFrame(p.stdin, payload); err != nil {
			done <- roundTrip{err: err}
			return
		}
		b, err := readFrame(p.stdout)
		if err != nil {
			done <- roundTrip{err: err}
			return
		}
		reply, err := decodeReply(b)
		done <- roundTrip{reply: reply, err: err}
	}()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	var rt roundTrip
	select {
	case rt = <-done:
	case <-timer.C:
		p.markBroken("reply timeout", id)
		return Result{}, fmt.Errorf("inference: reply timeout after %s (python worker may be hung): %w", p.cfg.Timeout, errWorkerBroken)
	case <-ctx.Done():
		p.markBroken("context cancelled mid-request", id)
		return Result{}, ctx.Err()
	}

	if rt.err != nil {
		p.markBroken(rt.err.Error(), id)
		if errors.Is(rt.err, io.EOF) || errors.Is(rt.err, io.ErrUnexpectedEOF) {
			return Result{}, fmt.Errorf("inference: python worker exited: %w", errWorkerBroken)
		}
		return Result{}, fmt.Errorf("inference: %w", rt.err)
	}

	if rt.reply.ID != 0 && rt.reply.ID != id {
		p.markBroken("reply id mismatch", id)
		return Result{}, fmt.Errorf("inference: reply id %d does not match request %d: %w", rt.reply.ID, id, errWorkerBroken)
	}

	if rt.reply.Error != "" {
		p.failures.Add(1)
		return Result{}, fmt.Errorf("inference: worker error: %s", rt.reply.Error)
	}

	res, err := rt.reply.toResult()
	if err != nil {
		p.failures.Add(1)
		return Result{}, fmt.Errorf("inference: malformed reply: %w", err)
	}

	p.faces.Add(uint64(res.Faces()))
	p.totalLatencyMS.Add(uint64(time.Since(start).Milliseconds()))

	p.logger.Debug("inference: detect",
		"request_id", id,
		"faces", res.Faces(),
		"worker_ms", rt.reply.Timing.TotalMS,
		"round_trip", time.Since(start),
	)

	return res, nil
}

func (p *Python) markBroken(reason string, id uint64) {
	p.failures.Add(1)
	if p.broken.CompareAndSwap(false, true) {
		p.logger.Error("inference: python worker stream broken, restart required",
			"request_id", id,
			"reason", reason,
		)
	}
}

// logStderr relays worker stderr to the logger.
// Maps "[ERROR]" and "[CRITICAL]" to Error, "[WARNING]" and "[WARN]" to Warn, anything else to Debug.
func (p *Python) logStderr(r io.Reader) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			p.logger.Error("inference: python worker error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			p.logger.Warn("inference: python worker warning", "log", line)
		default:
			p.logger.Debug("inference: python worker log", "log", line)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		p.logger.Error("inference: error reading stderr", "error", err)
	}
}

// waitProcess reaps the worker process
func (p *Python) waitProcess(ctx context.Context) {
	defer p.wg.Done()

	err := p.cmd.Wait()
	pid := p.cmd.Process.Pid

	switch {
	case err == nil:
		p.logger.Info("inference: python process exited cleanly", "pid", pid)
	case ctx.Err() != nil || p.closed.Load():
		p.logger.Debug("inference: python process exited (shutdown)", "pid", pid)
	default:
		p.broken.Store(true)
		p.logger.Error("inference: python process exited unexpectedly", "pid", pid, "error", err)
	}
}

// Stats returns a snapshot of worker counters
func (p *Python) Stats() PythonStats {
	requests := p.requests.Load()
	failures := p.failures.Load()

	var avg float64
	if ok := requests - failures; ok > 0 && requests >= failures {
		avg = float64(p.totalLatencyMS.Load()) / float64(ok)
	}

	return PythonStats{
		Requests:     requests,
		Faces:        p.faces.Load(),
		Failures:     failures,
		AvgLatencyMS: avg,
		Broken:       p.broken.Load(),
	}
}

// Close stops the worker. Closing stdin asks it to exit; it is killed if it
// does not within two seconds. Close is idempotent.
func (p *Python) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	if p.stdin != nil {
		p.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		p.logger.Warn("inference: python worker stop timeout, killing process")
		if p.cmd != nil && p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Error("inference: failed to kill python process", "error", err)
			}
		}
	}

	if p.cancel != nil {
		p.cancel()
	}

	stats := p.Stats()
	p.logger.Info("inference: python landmarker stopped",
		"requests", stats.Requests,
		"failures", stats.Failures,
	)

	return nil
}

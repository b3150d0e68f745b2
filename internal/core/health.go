package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/e7canasta/orion-facemesh/internal/inference"
	"github.com/e7canasta/orion-facemesh/internal/sink"
	"github.com/e7canasta/orion-facemesh/internal/source"
	"github.com/e7canasta/orion-facemesh/internal/tracker"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the health state of the pipeline
type HealthStatus struct {
	Status        string                 `json:"status"` // healthy, degraded, unhealthy
	InstanceID    string                 `json:"instance_id"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Source        source.Stats           `json:"source"`
	Tracker       tracker.Stats          `json:"tracker"`
	Inference     *inference.PythonStats `json:"inference,omitempty"`
	MQTT          *sink.MQTTStats        `json:"mqtt,omitempty"`
}

// HealthCheck returns the current health status of the pipeline
func (p *Pipeline) HealthCheck() HealthStatus {
	p.mu.RLock()
	running := p.isRunning
	started := p.started
	p.mu.RUnlock()

	status := HealthStatus{
		Status:     StatusHealthy,
		InstanceID: p.cfg.InstanceID,
		Source:     p.source.Stats(),
		Tracker:    p.tracker.Stats(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	if py, ok := p.landmarker.(*inference.Python); ok {
		s := py.Stats()
		status.Inference = &s
	}
	if m, ok := p.sink.(*sink.MQTT); ok {
		s := m.Stats()
		status.MQTT = &s
	}

	switch {
	case !running:
		status.Status = StatusUnhealthy
	case status.Source.Exhausted,
		status.Inference != nil && status.Inference.Broken,
		status.MQTT != nil && !status.MQTT.Connected:
		status.Status = StatusDegraded
	}

	return status
}

// LivenessHandler handles /health: 200 while the process is alive
func (p *Pipeline) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()

	var uptime int64
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": uptime,
	})
}

// ReadinessHandler handles /readiness with the detailed status. Degraded
// still answers 200.
func (p *Pipeline) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := p.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// Handler returns the health endpoints mux
func (p *Pipeline) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", p.LivenessHandler)
	mux.HandleFunc("/readiness", p.ReadinessHandler)
	return mux
}

// StartHealthServer listens on addr and serves the health endpoints in the
// background. Bind errors are returned.
func (p *Pipeline) StartHealthServer(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      p.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	p.mu.Lock()
	p.server = server
	p.mu.Unlock()

	p.logger.Info("starting health check server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("health check server failed", "error", err)
		}
	}()

	return nil
}

// Package config loads the facemeshd YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-facemesh/internal/capture"
)

// Config represents the complete facemeshd configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Capture          CaptureConfig   `yaml:"capture"`
	Pipeline         PipelineConfig  `yaml:"pipeline"`
	Tracker          TrackerConfig   `yaml:"tracker"`
	Smoothing        SmoothingConfig `yaml:"smoothing"`
	Inference        InferenceConfig `yaml:"inference"`
	Sink             SinkConfig      `yaml:"sink"`
	Health           HealthConfig    `yaml:"health"`
}

// Capture source kinds
const (
	SourceDevice    = string(capture.KindDevice)
	SourceFile      = string(capture.KindFile)
	SourceSynthetic = string(capture.KindSynthetic)
)

// CaptureConfig selects and shapes the frame source
type CaptureConfig struct {
	Source     string   `yaml:"source"`     // device, file, synthetic
	Device     int      `yaml:"device"`     // /dev/video<N>
	FilePath   string   `yaml:"file_path"`  // required for source=file
	Format     string   `yaml:"format"`     // bgr, rgb, gray
	Size       string   `yaml:"size"`       // native or WIDTHxHEIGHT
	Brightness *float64 `yaml:"brightness"` // multiplier, default 1.0
	FPS        int      `yaml:"fps"`        // synthetic pacing, 0 = unpaced
	Frames     int      `yaml:"frames"`     // synthetic frame limit, 0 = endless
}

// PipelineConfig sizes the channels between stages
type PipelineConfig struct {
	FrameBuffer       int `yaml:"frame_buffer"`       // drop-oldest frame queue capacity
	ObservationBuffer int `yaml:"observation_buffer"` // tracker -> sink channel capacity
}

// TrackerConfig contains tracker settings
type TrackerConfig struct {
	StoreFrame bool `yaml:"store_frame"`
}

// SmoothingConfig configures the adaptive filter stage
type SmoothingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Defaults    SmoothingDefaults `yaml:"defaults"`
	Landmarks   map[string]any    `yaml:"landmarks"`
	Expressions map[string]any    `yaml:"expressions"`
}

// SmoothingDefaults are the channel-wide filter parameters. Unset values
// take the filter defaults.
type SmoothingDefaults struct {
	MinCutoff        *float64 `yaml:"min_cutoff"`
	Beta             *float64 `yaml:"beta"`
	DerivativeCutoff *float64 `yaml:"derivative_cutoff"`
}

// Inference kinds
const (
	InferencePython = "python"
	InferenceNone   = "none"
)

// InferenceConfig configures the landmark worker
type InferenceConfig struct {
	Kind    string        `yaml:"kind"` // python, none
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// Sink kinds
const (
	SinkLog  = "log"
	SinkMQTT = "mqtt"
)

// SinkConfig selects the observation consumer
type SinkConfig struct {
	Kind string     `yaml:"kind"` // log, mqtt
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Format      string `yaml:"format"` // json, msgpack
}

// HealthConfig configures the HTTP health endpoint
type HealthConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

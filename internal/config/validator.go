package config

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/e7canasta/orion-facemesh/internal/capture"
	"github.com/e7canasta/orion-facemesh/internal/sink"
	"github.com/e7canasta/orion-facemesh/internal/types"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

const (
	defaultShutdownTimeoutS  = 5
	defaultFrameBuffer       = 2
	defaultObservationBuffer = 16
	defaultInferenceTimeout  = 2 * time.Second
)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = defaultShutdownTimeoutS
	}

	if err := validateCapture(&cfg.Capture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	if cfg.Pipeline.FrameBuffer < 0 || cfg.Pipeline.ObservationBuffer < 0 {
		return fmt.Errorf("pipeline: buffer sizes must be >= 0")
	}
	if cfg.Pipeline.FrameBuffer == 0 {
		cfg.Pipeline.FrameBuffer = defaultFrameBuffer
	}
	if cfg.Pipeline.ObservationBuffer == 0 {
		cfg.Pipeline.ObservationBuffer = defaultObservationBuffer
	}

	if err := validateSmoothing(&cfg.Smoothing); err != nil {
		return fmt.Errorf("smoothing: %w", err)
	}

	if err := validateInference(&cfg.Inference); err != nil {
		return fmt.Errorf("inference: %w", err)
	}

	if err := validateSink(&cfg.Sink, cfg.InstanceID); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	return nil
}

func validateCapture(c *CaptureConfig) error {
	switch c.Source {
	case "":
		c.Source = SourceDevice
	case SourceDevice, SourceFile, SourceSynthetic:
	default:
		return fmt.Errorf("unknown source %q (must be device, file or synthetic)", c.Source)
	}

	if c.Source == SourceDevice && c.Device < 0 {
		return fmt.Errorf("device index must be >= 0, got %d", c.Device)
	}
	// Existence is checked when the capturer opens, so check-config works
	// on a machine without the input file.
	if c.Source == SourceFile && c.FilePath == "" {
		return fmt.Errorf("file_path is required for source=file")
	}

	if c.Format == "" {
		c.Format = types.FormatRGB24.String()
	}
	if _, err := types.ParsePixelFormat(c.Format); err != nil {
		return err
	}

	if c.Size == "" {
		c.Size = "native"
	}
	if _, err := capture.ParseSize(c.Size); err != nil {
		return err
	}

	if c.Brightness == nil {
		one := 1.0
		c.Brightness = &one
	}
	if b := *c.Brightness; !(b >= 0) || math.IsInf(b, 0) {
		return fmt.Errorf("brightness must be a finite value >= 0, got %v", b)
	}

	if c.FPS < 0 || c.Frames < 0 {
		return fmt.Errorf("fps and frames must be >= 0")
	}

	return nil
}

func validateSmoothing(s *SmoothingConfig) error {
	check := func(name string, v *float64, positive bool) error {
		if v == nil {
			return nil
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 || (positive && *v == 0) {
			return fmt.Errorf("defaults.%s is out of range: %v", name, *v)
		}
		return nil
	}

	if err := check("min_cutoff", s.Defaults.MinCutoff, false); err != nil {
		return err
	}
	if err := check("beta", s.Defaults.Beta, false); err != nil {
		return err
	}
	// Override tables are validated by the filter, which drops bad entries
	return check("derivative_cutoff", s.Defaults.DerivativeCutoff, true)
}

func validateInference(i *InferenceConfig) error {
	switch i.Kind {
	case "":
		if i.Command != "" {
			i.Kind = InferencePython
		} else {
			i.Kind = InferenceNone
		}
	case InferencePython:
		if i.Command == "" {
			return fmt.Errorf("command is required for kind=python")
		}
	case InferenceNone:
	default:
		return fmt.Errorf("unknown kind %q (must be python or none)", i.Kind)
	}

	if i.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	if i.Timeout == 0 {
		i.Timeout = defaultInferenceTimeout
	}

	return nil
}

func validateSink(s *SinkConfig, instanceID string) error {
	switch s.Kind {
	case "":
		s.Kind = SinkLog
	case SinkLog:
	case SinkMQTT:
		if s.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required for kind=mqtt")
		}
	default:
		return fmt.Errorf("unknown kind %q (must be log or mqtt)", s.Kind)
	}

	if s.MQTT.ClientID == "" {
		s.MQTT.ClientID = instanceID
	}
	if s.MQTT.TopicPrefix == "" {
		s.MQTT.TopicPrefix = fmt.Sprintf("facemesh/%s", instanceID)
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	format, err := sink.ParseFormat(s.MQTT.Format)
	if err != nil {
		return err
	}
	s.MQTT.Format = string(format)

	return nil
}

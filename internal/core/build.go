package core

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-facemesh/internal/capture"
	"github.com/e7canasta/orion-facemesh/internal/capture/gstreamer"
	"github.com/e7canasta/orion-facemesh/internal/config"
	"github.com/e7canasta/orion-facemesh/internal/filter"
	"github.com/e7canasta/orion-facemesh/internal/inference"
	"github.com/e7canasta/orion-facemesh/internal/sink"
	"github.com/e7canasta/orion-facemesh/internal/tracker"
	"github.com/e7canasta/orion-facemesh/internal/types"
)

// Synthetic frames use this size when capture.size is native
const (
	syntheticWidth  = 640
	syntheticHeight = 480
)

// Deps are the external collaborators of a pipeline. A nil field is built
// from the configuration.
type Deps struct {
	Capturer   capture.Capturer
	Landmarker inference.Landmarker
	Sink       sink.Sink
}

func newCapturer(cfg config.CaptureConfig, logger *slog.Logger) (capture.Capturer, error) {
	size, err := capture.ParseSize(cfg.Size)
	if err != nil {
		return nil, err
	}

	switch capture.Kind(cfg.Source) {
	case capture.KindDevice:
		return gstreamer.NewDevice(cfg.Device, size, logger)
	case capture.KindFile:
		return gstreamer.NewFile(cfg.FilePath, size, logger)
	case capture.KindSynthetic:
		w, h := syntheticWidth, syntheticHeight
		if !size.Native() {
			w, h = size.Width, size.Height
		}
		return capture.NewSynthetic(capture.SyntheticConfig{
			Width:  w,
			Height: h,
			FPS:    cfg.FPS,
			Frames: cfg.Frames,
		})
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

func newTransform(cfg config.CaptureConfig) (*capture.Transform, error) {
	format, err := types.ParsePixelFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	size, err := capture.ParseSize(cfg.Size)
	if err != nil {
		return nil, err
	}
	brightness := 1.0
	if cfg.Brightness != nil {
		brightness = *cfg.Brightness
	}
	return capture.NewTransform(format, brightness, size)
}

func newLandmarker(cfg config.InferenceConfig, logger *slog.Logger) (inference.Landmarker, error) {
	switch cfg.Kind {
	case config.InferencePython:
		return inference.NewPython(inference.PythonConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Timeout: cfg.Timeout,
		}, logger)
	case config.InferenceNone, "":
		logger.Warn("no landmarker configured, every frame reports no face")
		return inference.None{}, nil
	default:
		return nil, fmt.Errorf("unknown inference kind %q", cfg.Kind)
	}
}

func newSmoother(cfg config.SmoothingConfig, logger *slog.Logger) tracker.Smoother {
	if !cfg.Enabled {
		return tracker.Passthrough{}
	}

	fc := filter.DefaultConfig()
	if v := cfg.Defaults.MinCutoff; v != nil {
		fc.MinCutoff = *v
	}
	if v := cfg.Defaults.Beta; v != nil {
		fc.Beta = *v
	}
	if v := cfg.Defaults.DerivativeCutoff; v != nil {
		fc.DerivativeCutoff = *v
	}
	fc.Landmarks = cfg.Landmarks
	fc.Expressions = cfg.Expressions

	return filter.New(fc, logger)
}

func newSink(cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case config.SinkLog, "":
		return sink.NewLog(logger), nil
	case config.SinkMQTT:
		format, err := sink.ParseFormat(cfg.Sink.MQTT.Format)
		if err != nil {
			return nil, err
		}
		return sink.NewMQTT(sink.MQTTConfig{
			InstanceID:  cfg.InstanceID,
			Broker:      cfg.Sink.MQTT.Broker,
			ClientID:    cfg.Sink.MQTT.ClientID,
			TopicPrefix: cfg.Sink.MQTT.TopicPrefix,
			QoS:         cfg.Sink.MQTT.QoS,
			Format:      format,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}

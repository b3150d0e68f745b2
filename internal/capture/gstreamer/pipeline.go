package gstreamer

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipelineConfig describes the capture pipeline
type pipelineConfig struct {
	// Device is a V4L2 device path, FilePath a media file. Exactly one is set.
	Device   string
	FilePath string
	// Width and Height ask GStreamer to scale. 0 keeps the native size.
	Width  int
	Height int
}

// pipelineElements holds the elements needed after creation
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// createPipeline builds the pipeline without starting it.
//
// Device:
//
//	v4l2src → videoconvert → videoscale → capsfilter(BGR) → appsink
//
// File:
//
//	filesrc → decodebin ⇢ videoconvert → videoscale → capsfilter(BGR) → appsink
//
// decodebin has dynamic pads, linked in the pad-added callback.
func createPipeline(cfg pipelineConfig, logger *slog.Logger) (*pipelineElements, error) {
	// Safe to call multiple times
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0) // 0 = auto-detect cores

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(cfg.Width, cfg.Height)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("emit-signals", false)

	tail := []*gst.Element{converter, scaler, capsfilter, appsink.Element}

	switch {
	case cfg.Device != "":
		src, err := gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", cfg.Device)

		// Live source: keep only the latest frame
		appsink.SetProperty("max-buffers", 1)
		appsink.SetProperty("drop", true)

		elements := append([]*gst.Element{src}, tail...)
		if err := pipeline.AddMany(elements...); err != nil {
			return nil, fmt.Errorf("failed to add device pipeline elements: %w", err)
		}
		if err := gst.ElementLinkMany(elements...); err != nil {
			return nil, fmt.Errorf("failed to link device pipeline elements: %w", err)
		}

	case cfg.FilePath != "":
		src, err := gst.NewElement("filesrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create filesrc: %w", err)
		}
		src.SetProperty("location", cfg.FilePath)

		decoder, err := gst.NewElement("decodebin")
		if err != nil {
			return nil, fmt.Errorf("failed to create decodebin: %w", err)
		}

		// File source: never drop, the reader paces the pipeline
		appsink.SetProperty("max-buffers", 2)
		appsink.SetProperty("drop", false)

		if err := pipeline.AddMany(append([]*gst.Element{src, decoder}, tail...)...); err != nil {
			return nil, fmt.Errorf("failed to add file pipeline elements: %w", err)
		}
		if err := src.Link(decoder); err != nil {
			return nil, fmt.Errorf("failed to link filesrc to decodebin: %w", err)
		}
		if err := gst.ElementLinkMany(tail...); err != nil {
			return nil, fmt.Errorf("failed to link file pipeline elements: %w", err)
		}

		if _, err := decoder.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			onPadAdded(srcPad, converter, logger)
		}); err != nil {
			return nil, fmt.Errorf("failed to connect pad-added: %w", err)
		}

	default:
		return nil, fmt.Errorf("either device or file path is required")
	}

	return &pipelineElements{
		Pipeline: pipeline,
		AppSink:  appsink,
	}, nil
}

// buildCaps returns the appsink caps: packed BGR, optionally at a fixed size
func buildCaps(width, height int) string {
	if width > 0 && height > 0 {
		return fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d", width, height)
	}
	return "video/x-raw,format=BGR"
}

// onPadAdded links a new decodebin video pad to the converter. Audio and
// other pads are ignored.
func onPadAdded(srcPad *gst.Pad, sinkElement *gst.Element, logger *slog.Logger) {
	logger.Debug("capture: pad-added signal received", "pad", srcPad.GetName())

	caps := srcPad.GetCurrentCaps()
	if caps != nil && caps.GetSize() > 0 {
		if name := caps.GetStructureAt(0).Name(); len(name) < 5 || name[:5] != "video" {
			logger.Debug("capture: ignoring non-video pad", "pad", srcPad.GetName(), "caps", name)
			return
		}
	}

	sinkPad := sinkElement.GetStaticPad("sink")
	if sinkPad == nil {
		logger.Error("capture: failed to get sink pad from videoconvert")
		return
	}
	if sinkPad.IsLinked() {
		logger.Debug("capture: videoconvert already linked, ignoring pad", "pad", srcPad.GetName())
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		logger.Error("capture: failed to link pads",
			"src_pad", srcPad.GetName(),
			"sink_pad", sinkPad.GetName(),
			"ret", ret,
		)
		return
	}

	logger.Debug("capture: pads linked successfully",
		"src_pad", srcPad.GetName(),
		"sink_pad", sinkPad.GetName(),
	)
}

// destroyPipeline sets the pipeline to NULL, releasing the device
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

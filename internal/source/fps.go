package source

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// fpsStabilityThreshold: stable when the FPS stddev is under 15% of the mean
	fpsStabilityThreshold = 0.15
	// jitterStabilityThreshold: stable when mean jitter is under 20% of the interval
	jitterStabilityThreshold = 0.20
)

// FPSStats describes the capture rate over a window of recent frames
type FPSStats struct {
	Frames       int     `json:"frames"`
	FPSMean      float64 `json:"fps_mean"`
	FPSStdDev    float64 `json:"fps_stddev"`
	FPSMin       float64 `json:"fps_min"`
	FPSMax       float64 `json:"fps_max"`
	JitterMean   float64 `json:"jitter_mean_s"`
	JitterStdDev float64 `json:"jitter_stddev_s"`
	JitterMax    float64 `json:"jitter_max_s"`
	IsStable     bool    `json:"is_stable"`
}

// calculateFPSStats computes rate and jitter statistics from frame timestamps
// in seconds, oldest first.
func calculateFPSStats(times []float64) FPSStats {
	n := len(times)
	if n < 2 {
		return FPSStats{Frames: n}
	}

	span := times[n-1] - times[0]
	if span <= 0 {
		return FPSStats{Frames: n}
	}

	// n frames cover n-1 intervals
	fpsMean := float64(n-1) / span

	intervals := make([]float64, n-1)
	for i := 1; i < n; i++ {
		intervals[i-1] = times[i] - times[i-1]
	}

	instantaneous := make([]float64, 0, len(intervals))
	for _, iv := range intervals {
		if iv > 0 {
			instantaneous = append(instantaneous, 1/iv)
		}
	}

	s := FPSStats{Frames: n, FPSMean: fpsMean}
	if len(instantaneous) == 0 {
		return s
	}

	s.FPSMin = floats.Min(instantaneous)
	s.FPSMax = floats.Max(instantaneous)
	s.FPSStdDev = stat.PopStdDev(instantaneous, nil)

	expected := 1 / fpsMean
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		jitters[i] = math.Abs(iv - expected)
	}
	s.JitterMean, s.JitterStdDev = stat.PopMeanStdDev(jitters, nil)
	s.JitterMax = floats.Max(jitters)

	s.IsStable = s.FPSStdDev < fpsMean*fpsStabilityThreshold &&
		s.JitterMean < expected*jitterStabilityThreshold

	return s
}

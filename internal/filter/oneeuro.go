// Package filter implements a One-Euro style adaptive low-pass filter for
// face landmark and expression vectors.
//
// The cutoff frequency rises with the smoothed signal velocity, so jitter is
// damped when the face is still and lag stays low during fast motion. One
// smoothing factor is computed per vector from the largest per-element cutoff.
// Indexes with overrides are then recomputed with their own parameters.
package filter

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// Epsilon is the floor applied to the time delta between samples, in seconds
const Epsilon = 1e-6

const (
	DefaultMinCutoff        = 1.0
	DefaultBeta             = 0.0
	DefaultDerivativeCutoff = 1.0
)

// Config configures a OneEuro filter. Start from DefaultConfig: a zero
// MinCutoff holds the first sample forever.
type Config struct {
	MinCutoff        float64
	Beta             float64
	DerivativeCutoff float64

	// Landmarks maps landmark point index -> override. An override covers the
	// x, y and z components of that point. See parseOverrides for value forms.
	Landmarks map[string]any
	// Expressions maps expression score index -> override
	Expressions map[string]any
}

// DefaultConfig returns the channel-wide defaults with no overrides
func DefaultConfig() Config {
	return Config{
		MinCutoff:        DefaultMinCutoff,
		Beta:             DefaultBeta,
		DerivativeCutoff: DefaultDerivativeCutoff,
	}
}

// OneEuro smooths observations across time.
//
// Not safe for concurrent use. The tracker goroutine owns it.
type OneEuro struct {
	defaults         Params
	derivativeCutoff float64

	landmarks   channel
	expressions channel

	prevT       float64
	initialized bool

	logger *slog.Logger
}

// channel is the state of one smoothed vector
type channel struct {
	// width is the number of vector elements per override index
	width     int
	overrides map[int]Params

	prevX  []float64
	prevDX []float64
}

// New creates a filter. Invalid override entries are logged and ignored;
// construction never fails.
func New(cfg Config, logger *slog.Logger) *OneEuro {
	if logger == nil {
		logger = slog.Default()
	}

	def := Params{MinCutoff: cfg.MinCutoff, Beta: cfg.Beta}
	if err := def.validate(); err != nil {
		logger.Warn("filter: invalid defaults, using built-in values",
			"min_cutoff", cfg.MinCutoff, "beta", cfg.Beta, "error", err)
		def = Params{MinCutoff: DefaultMinCutoff, Beta: DefaultBeta}
	}

	dc := cfg.DerivativeCutoff
	if !(dc > 0) || math.IsInf(dc, 0) {
		if dc != 0 {
			logger.Warn("filter: invalid derivative_cutoff, using default",
				"derivative_cutoff", dc, "default", DefaultDerivativeCutoff)
		}
		dc = DefaultDerivativeCutoff
	}

	f := &OneEuro{
		defaults:         def,
		derivativeCutoff: dc,
		landmarks: channel{
			width:     3,
			overrides: parseOverrides("landmarks", cfg.Landmarks, def, logger),
		},
		expressions: channel{
			width:     1,
			overrides: parseOverrides("expressions", cfg.Expressions, def, logger),
		},
		logger: logger,
	}

	logger.Debug("filter: created",
		"min_cutoff", def.MinCutoff,
		"beta", def.Beta,
		"derivative_cutoff", dc,
		"landmark_overrides", len(f.landmarks.overrides),
		"expression_overrides", len(f.expressions.overrides),
	)

	return f
}

// Filter returns a smoothed copy of obs.
//
// Observations with an empty landmark or expression vector carry no signal and
// are returned unchanged without touching the filter state. The first
// observation after construction or Reset is returned unchanged and becomes
// the initial state.
func (f *OneEuro) Filter(obs types.Observation) types.Observation {
	if len(obs.Landmarks) == 0 || len(obs.Expressions) == 0 {
		return obs
	}

	lm := flattenLandmarks(obs.Landmarks)
	ex := append([]float64(nil), obs.Expressions...)

	if !f.initialized {
		f.landmarks.init(lm)
		f.expressions.init(ex)
		f.prevT = obs.Timestamp
		f.initialized = true
		return obs
	}

	dt := obs.Timestamp - f.prevT
	if !(dt > Epsilon) {
		dt = Epsilon
	}

	lm = f.landmarks.step(lm, dt, f.defaults, f.derivativeCutoff)
	ex = f.expressions.step(ex, dt, f.defaults, f.derivativeCutoff)

	// A backward step resets the clock to the new timestamp
	f.prevT = obs.Timestamp

	out := obs
	out.Landmarks = unflattenLandmarks(lm)
	out.Expressions = ex
	return out
}

// Reset discards all filter state. The next observation is passed through.
func (f *OneEuro) Reset() {
	f.landmarks.prevX, f.landmarks.prevDX = nil, nil
	f.expressions.prevX, f.expressions.prevDX = nil, nil
	f.prevT = 0
	f.initialized = false
	f.logger.Debug("filter: reset")
}

func (c *channel) init(x []float64) {
	c.prevX = append(c.prevX[:0], x...)
	c.prevDX = make([]float64, len(x))
}

// step smooths x against the channel state and stores the result. A
// cardinality change restarts the channel from x.
func (c *channel) step(x []float64, dt float64, def Params, derivativeCutoff float64) []float64 {
	n := len(x)
	if n != len(c.prevX) {
		c.init(x)
		return x
	}

	// dx = (x - prev_x) / dt
	dx := make([]float64, n)
	floats.SubTo(dx, x, c.prevX)
	floats.Scale(1/dt, dx)

	// dx_hat = a_d*dx + (1-a_d)*prev_dx
	ad := alpha(dt, derivativeCutoff)
	dxHat := make([]float64, n)
	floats.ScaleTo(dxHat, ad, dx)
	floats.AddScaled(dxHat, 1-ad, c.prevDX)

	xHat := make([]float64, n)
	lerp(xHat, x, c.prevX, alpha(dt, maxCutoff(def, dxHat)))

	for idx, p := range c.overrides {
		lo, hi := idx*c.width, (idx+1)*c.width
		if hi > n {
			continue
		}
		a := alpha(dt, maxCutoff(p, dxHat[lo:hi]))
		lerp(xHat[lo:hi], x[lo:hi], c.prevX[lo:hi], a)
	}

	c.prevX = xHat
	c.prevDX = dxHat

	return append([]float64(nil), xHat...)
}

// maxCutoff returns max_i(min_cutoff + beta*|dxHat_i|)
func maxCutoff(p Params, dxHat []float64) float64 {
	if len(dxHat) == 0 {
		return p.MinCutoff
	}
	return p.MinCutoff + p.Beta*floats.Norm(dxHat, math.Inf(1))
}

// alpha returns 1/(1 + tau/dt) with tau = 1/(2*pi*cutoff).
// A non-positive cutoff holds the previous value.
func alpha(dt, cutoff float64) float64 {
	if !(cutoff > 0) {
		return 0
	}
	tau := 1 / (2 * math.Pi * cutoff)
	a := 1 / (1 + tau/dt)
	if math.IsNaN(a) {
		return 1
	}
	return a
}

// lerp writes a*x + (1-a)*prev into dst
func lerp(dst, x, prev []float64, a float64) {
	for i := range dst {
		dst[i] = a*x[i] + (1-a)*prev[i]
	}
}

func flattenLandmarks(lms []types.Landmark) []float64 {
	out := make([]float64, 0, 3*len(lms))
	for _, lm := range lms {
		out = append(out, lm.X, lm.Y, lm.Z)
	}
	return out
}

func unflattenLandmarks(v []float64) []types.Landmark {
	out := make([]types.Landmark, len(v)/3)
	for i := range out {
		out[i] = types.Landmark{X: v[3*i], Y: v[3*i+1], Z: v[3*i+2]}
	}
	return out
}

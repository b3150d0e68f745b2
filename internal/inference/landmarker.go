// Package inference defines the face landmark inference contract and its
// implementations.
package inference

import (
	"context"
	"errors"
	"sync"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

var (
	// ErrClosed is returned by Detect after Close
	ErrClosed = errors.New("inference: landmarker closed")

	// ErrNotStarted is returned by Detect before Start
	ErrNotStarted = errors.New("inference: landmarker not started")
)

// Landmarker turns one image into zero or more detected faces.
//
// Detect is called synchronously by the tracker, one frame at a time. An
// image without faces yields an empty Result and a nil error.
type Landmarker interface {
	Detect(ctx context.Context, img types.Image) (Result, error)
}

// Result holds every face found in one image. Landmarks[i] and Expressions[i]
// belong to face i.
type Result struct {
	Landmarks   [][]types.Landmark
	Expressions [][]float64
}

// HasFace reports whether some face index carries both a non-empty landmark
// set and a non-empty expression set.
func (r Result) HasFace() bool {
	return r.firstFace() >= 0
}

// First returns the landmarks and expressions of the lowest face index for
// which both are non-empty. Both are nil when HasFace is false.
func (r Result) First() ([]types.Landmark, []float64) {
	i := r.firstFace()
	if i < 0 {
		return nil, nil
	}
	return r.Landmarks[i], r.Expressions[i]
}

// Faces returns the number of faces with landmarks
func (r Result) Faces() int {
	n := 0
	for _, lms := range r.Landmarks {
		if len(lms) > 0 {
			n++
		}
	}
	return n
}

func (r Result) firstFace() int {
	for i, lms := range r.Landmarks {
		if len(lms) > 0 && i < len(r.Expressions) && len(r.Expressions[i]) > 0 {
			return i
		}
	}
	return -1
}

// None never finds a face. It lets the pipeline run without an inference
// backend.
type None struct{}

// Detect implements Landmarker
func (None) Detect(context.Context, types.Image) (Result, error) {
	return Result{}, nil
}

// Scripted replays a fixed sequence of results, one per Detect call, and
// then repeats the last one. Errs, when set at the same position, is
// returned instead of the result.
type Scripted struct {
	mu      sync.Mutex
	results []Result
	errs    []error
	calls   int
}

// NewScripted creates a Scripted landmarker
func NewScripted(results ...Result) *Scripted {
	return &Scripted{results: results}
}

// WithErrors sets per-call errors aligned with the result sequence
func (s *Scripted) WithErrors(errs ...error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = errs
	return s
}

// Detect implements Landmarker
func (s *Scripted) Detect(ctx context.Context, _ types.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++

	if i < len(s.errs) && s.errs[i] != nil {
		return Result{}, s.errs[i]
	}
	if len(s.results) == 0 {
		return Result{}, nil
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

// Calls returns the number of Detect calls so far
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Face builds a single-face Result. Handy for scripted sequences.
func Face(landmarks []types.Landmark, expressions []float64) Result {
	return Result{
		Landmarks:   [][]types.Landmark{landmarks},
		Expressions: [][]float64{expressions},
	}
}

package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

func TestResultHasFace(t *testing.T) {
	lm := []types.Landmark{{X: 1}}
	ex := []float64{0.5}

	tests := []struct {
		name string
		res  Result
		want bool
	}{
		{"empty", Result{}, false},
		{"one face", Face(lm, ex), true},
		{"landmarks only", Result{Landmarks: [][]types.Landmark{lm}}, false},
		{"expressions only", Result{Expressions: [][]float64{ex}}, false},
		{"empty sets", Result{Landmarks: [][]types.Landmark{{}}, Expressions: [][]float64{{}}}, false},
		{"second face non-empty", Result{
			Landmarks:   [][]types.Landmark{{}, lm},
			Expressions: [][]float64{{}, ex},
		}, true},
		{"sets on different faces", Result{
			Landmarks:   [][]types.Landmark{lm, {}},
			Expressions: [][]float64{{}, ex},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.HasFace(); got != tt.want {
				t.Errorf("HasFace() = %v, want %v", got, tt.want)
			}
			lms, exs := tt.res.First()
			if (len(lms) > 0) != tt.want || (len(exs) > 0) != tt.want {
				t.Errorf("First() = (%v, %v), want populated=%v", lms, exs, tt.want)
			}
		})
	}
}

func TestResultFirstUsesFirstFace(t *testing.T) {
	res := Result{
		Landmarks:   [][]types.Landmark{{{X: 1}}, {{X: 2}}},
		Expressions: [][]float64{{0.1}, {0.2}},
	}
	lms, ex := res.First()
	if lms[0].X != 1 || ex[0] != 0.1 {
		t.Errorf("First() = (%v, %v), want face 0", lms, ex)
	}
	if res.Faces() != 2 {
		t.Errorf("Faces() = %d, want 2", res.Faces())
	}
}

func TestResultFirstKeepsFaceTogether(t *testing.T) {
	res := Result{
		Landmarks:   [][]types.Landmark{{{X: 0.1}}, {{X: 0.2}}},
		Expressions: [][]float64{{}, {0.7}},
	}
	if !res.HasFace() {
		t.Fatal("HasFace() = false, want true")
	}
	lms, ex := res.First()
	if len(lms) != 1 || lms[0].X != 0.2 || len(ex) != 1 || ex[0] != 0.7 {
		t.Errorf("First() = (%v, %v), want face 1", lms, ex)
	}
}

func TestScripted(t *testing.T) {
	face := Face([]types.Landmark{{X: 1}}, []float64{0.5})
	boom := errors.New("boom")

	s := NewScripted(face, Result{}, face).WithErrors(nil, nil, boom)
	ctx := context.Background()

	if res, _ := s.Detect(ctx, types.Image{}); !res.HasFace() {
		t.Error("call 0: expected face")
	}
	if res, _ := s.Detect(ctx, types.Image{}); res.HasFace() {
		t.Error("call 1: expected no face")
	}
	if _, err := s.Detect(ctx, types.Image{}); !errors.Is(err, boom) {
		t.Errorf("call 2: expected scripted error, got %v", err)
	}
	// Past the end the last result repeats
	if res, _ := s.Detect(ctx, types.Image{}); !res.HasFace() {
		t.Error("call 3: expected last result repeated")
	}
	if s.Calls() != 4 {
		t.Errorf("Calls() = %d, want 4", s.Calls())
	}
}

func TestNone(t *testing.T) {
	res, err := None{}.Detect(context.Background(), types.Image{})
	if err != nil || res.HasFace() {
		t.Errorf("None.Detect = (%+v, %v), want empty", res, err)
	}
}

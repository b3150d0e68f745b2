package types

import "testing"

func TestPresenceStateString(t *testing.T) {
	tests := []struct {
		state PresenceState
		want  string
	}{
		{StateLost, "LOST"},
		{StateRefound, "REFOUND"},
		{StateTracking, "TRACKING"},
		{PresenceState(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("PresenceState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// TestZeroObservationPaired covers the state before the first tracker tick.
func TestZeroObservationPaired(t *testing.T) {
	var obs Observation
	if !obs.Paired() {
		t.Fatal("zero-value observation must satisfy the pairing invariant")
	}
	if obs.HasFace() {
		t.Error("zero-value observation must not report a face")
	}
	if obs.State != StateLost {
		t.Errorf("zero-value state = %v, want LOST", obs.State)
	}
}

func TestObservationPaired(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
		want bool
	}{
		{"both empty", Observation{}, true},
		{"both set", Observation{Landmarks: []Landmark{{}}, Expressions: []float64{0.1}}, true},
		{"landmarks only", Observation{Landmarks: []Landmark{{}}}, false},
		{"expressions only", Observation{Expressions: []float64{0.1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.obs.Paired(); got != tt.want {
				t.Errorf("Paired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePixelFormat(t *testing.T) {
	for _, s := range []string{"bgr", "RGB", "gray8"} {
		if _, err := ParsePixelFormat(s); err != nil {
			t.Errorf("ParsePixelFormat(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParsePixelFormat("yuv"); err == nil {
		t.Error("ParsePixelFormat(yuv) expected error")
	}
}

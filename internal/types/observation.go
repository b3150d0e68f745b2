package types

// PresenceState classifies whether a face is currently tracked
type PresenceState int

const (
	// StateLost means no face on this tick
	StateLost PresenceState = iota
	// StateRefound is the first face tick after LOST
	StateRefound
	// StateTracking is any face tick after REFOUND or TRACKING
	StateTracking
)

// String returns the wire name of the state
func (s PresenceState) String() string {
	switch s {
	case StateLost:
		return "LOST"
	case StateRefound:
		return "REFOUND"
	case StateTracking:
		return "TRACKING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler so payloads carry the name
func (s PresenceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Landmark is one normalized 3D face landmark
type Landmark struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Observation is one tracker output tick.
//
// Landmarks and Expressions are both empty or both non-empty.
type Observation struct {
	// Seq and TraceID are copied from the source frame
	Seq     uint64 `json:"seq" msgpack:"seq"`
	TraceID string `json:"trace_id" msgpack:"trace_id"`

	// Frame is set only when the tracker is configured to retain frames
	Frame *Image `json:"-" msgpack:"-"`

	Landmarks   []Landmark `json:"landmarks" msgpack:"landmarks"`
	Expressions []float64  `json:"expressions" msgpack:"expressions"`

	State PresenceState `json:"state" msgpack:"state"`
	// StateRun counts consecutive ticks in State, 0 on the tick the state was entered
	StateRun int `json:"state_run" msgpack:"state_run"`

	// Timestamp is copied from the source frame (seconds, monotonic)
	Timestamp float64 `json:"timestamp" msgpack:"timestamp"`
}

// HasFace reports whether the observation carries a face payload
func (o Observation) HasFace() bool {
	return len(o.Landmarks) > 0 && len(o.Expressions) > 0
}

// Paired reports whether the landmark/expression pairing invariant holds
func (o Observation) Paired() bool {
	return (len(o.Landmarks) == 0) == (len(o.Expressions) == 0)
}

package sink

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// Format selects the payload encoding
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates a payload format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("sink: unknown payload format %q (must be json or msgpack)", s)
	}
}

// ObservationPayload is the wire form of an observation
type ObservationPayload struct {
	InstanceID  string      `json:"instance_id" msgpack:"instance_id"`
	Seq         uint64      `json:"seq" msgpack:"seq"`
	TraceID     string      `json:"trace_id" msgpack:"trace_id"`
	Timestamp   float64     `json:"timestamp" msgpack:"timestamp"`
	State       string      `json:"state" msgpack:"state"`
	StateRun    int         `json:"state_run" msgpack:"state_run"`
	HasFace     bool        `json:"has_face" msgpack:"has_face"`
	Landmarks   [][]float64 `json:"landmarks" msgpack:"landmarks"`
	Expressions []float64   `json:"expressions" msgpack:"expressions"`
}

// PresencePayload announces a presence transition
type PresencePayload struct {
	InstanceID string  `json:"instance_id" msgpack:"instance_id"`
	Seq        uint64  `json:"seq" msgpack:"seq"`
	TraceID    string  `json:"trace_id" msgpack:"trace_id"`
	Timestamp  float64 `json:"timestamp" msgpack:"timestamp"`
	From       string  `json:"from" msgpack:"from"`
	To         string  `json:"to" msgpack:"to"`
}

// NewObservationPayload flattens obs into its wire form. Landmarks become
// [x, y, z] triples and empty payloads encode as empty arrays, not null.
func NewObservationPayload(instanceID string, obs types.Observation) ObservationPayload {
	lms := make([][]float64, len(obs.Landmarks))
	for i, lm := range obs.Landmarks {
		lms[i] = []float64{lm.X, lm.Y, lm.Z}
	}
	ex := obs.Expressions
	if ex == nil {
		ex = []float64{}
	}

	return ObservationPayload{
		InstanceID:  instanceID,
		Seq:         obs.Seq,
		TraceID:     obs.TraceID,
		Timestamp:   obs.Timestamp,
		State:       obs.State.String(),
		StateRun:    obs.StateRun,
		HasFace:     obs.HasFace(),
		Landmarks:   lms,
		Expressions: ex,
	}
}

// Encode marshals v in the given format
func Encode(format Format, v any) ([]byte, error) {
	switch format {
	case FormatMsgpack:
		data, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("sink: msgpack encode failed: %w", err)
		}
		return data, nil
	case FormatJSON, "":
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("sink: json encode failed: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("sink: unknown payload format %q", format)
	}
}

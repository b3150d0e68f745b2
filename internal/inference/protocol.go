package inference

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// maxMessageSize bounds a single framed message (a 4K BGR frame is ~25MB)
const maxMessageSize = 64 << 20

// detectRequest is sent to the worker for every frame. frame_data carries raw
// bytes; msgpack encodes them natively without base64.
type detectRequest struct {
	ID        uint64 `msgpack:"id"`
	FrameData []byte `msgpack:"frame_data"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Format    string `msgpack:"format"`
}

// detectReply is the worker answer. Error is set instead of Faces on failure.
type detectReply struct {
	ID     uint64      `msgpack:"id"`
	Faces  []faceReply `msgpack:"faces"`
	Timing struct {
		TotalMS float64 `msgpack:"total_ms"`
	} `msgpack:"timing"`
	Error string `msgpack:"error,omitempty"`
}

type faceReply struct {
	// Landmarks is a list of [x, y, z] points
	Landmarks [][]float64 `msgpack:"landmarks"`
	// Blendshapes is the expression score vector
	Blendshapes []float64 `msgpack:"blendshapes"`
}

// writeFrame writes a 4-byte big-endian length prefix followed by payload
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(payload))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed message
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read msgpack data: %w", err)
	}
	return buf, nil
}

func encodeRequest(id uint64, img types.Image) ([]byte, error) {
	b, err := msgpack.Marshal(detectRequest{
		ID:        id,
		FrameData: img.Data,
		Width:     img.Width,
		Height:    img.Height,
		Format:    img.Format.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack request: %w", err)
	}
	return b, nil
}

func decodeReply(b []byte) (detectReply, error) {
	var reply detectReply
	if err := msgpack.Unmarshal(b, &reply); err != nil {
		return detectReply{}, fmt.Errorf("failed to unmarshal msgpack reply: %w", err)
	}
	return reply, nil
}

// toResult converts the wire reply into a Result
func (r detectReply) toResult() (Result, error) {
	res := Result{
		Landmarks:   make([][]types.Landmark, 0, len(r.Faces)),
		Expressions: make([][]float64, 0, len(r.Faces)),
	}

	for i, face := range r.Faces {
		lms := make([]types.Landmark, len(face.Landmarks))
		for j, p := range face.Landmarks {
			if len(p) != 3 {
				return Result{}, fmt.Errorf("face %d landmark %d: expected 3 components, got %d", i, j, len(p))
			}
			lms[j] = types.Landmark{X: p[0], Y: p[1], Z: p[2]}
		}
		res.Landmarks = append(res.Landmarks, lms)
		res.Expressions = append(res.Expressions, face.Blendshapes)
	}

	return res, nil
}
